package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/tidwall/gjson"

	"github.com/jonathan/job-autofill/internal/fetch"
	"github.com/jonathan/job-autofill/internal/llm"
	"github.com/jonathan/job-autofill/internal/profile"
	"github.com/jonathan/job-autofill/internal/prompts"
	"github.com/jonathan/job-autofill/internal/schemas"
	"github.com/jonathan/job-autofill/internal/types"
)

// DefaultTimeout bounds one classification request.
const DefaultTimeout = 8 * time.Second

const classifyPath = "/api/extension/classify"

// Remote classifies fields the pattern registry could not resolve.
type Remote interface {
	Classify(ctx context.Context, req *Request) ([]Classification, error)
}

// RemoteField is the wire form of one unresolved field.
type RemoteField struct {
	Index       int               `json:"index"`
	Label       string            `json:"label"`
	Placeholder string            `json:"placeholder,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	FieldType   string            `json:"fieldType"`
	Options     []string          `json:"options,omitempty"`
}

// Request is one batch of unresolved fields with the page they came from.
type Request struct {
	Fields       []RemoteField    `json:"fields"`
	JobTitle     string           `json:"jobTitle"`
	EmployerName string           `json:"employerName"`
	Platform     string           `json:"platform,omitempty"`
	Profile      *profile.Profile `json:"-"`
}

// Classification is one answer from a remote classifier.
type Classification struct {
	Index      int
	Key        string
	Value      string
	Confidence float64
}

// wireAttrs are the attributes forwarded to remote classifiers.
var wireAttrs = []string{
	"name", "id", "type", "role", "aria-label", "aria-describedby",
	"data-automation-id", "data-qa", "data-testid", "data-field", "autocomplete",
}

var sanitizer = bluemonday.StrictPolicy()

// sanitize strips markup from page-supplied text before it leaves the process.
func sanitize(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(sanitizer.Sanitize(s))), " ")
}

// NewRequest builds the wire batch for descriptors on a page.
func NewRequest(page fetch.PageContext, descriptors []types.FieldDescriptor, p *profile.Profile) *Request {
	req := &Request{
		JobTitle:     sanitize(page.JobTitle),
		EmployerName: sanitize(page.Employer),
		Platform:     string(page.Platform),
		Profile:      p,
		Fields:       make([]RemoteField, 0, len(descriptors)),
	}
	for _, d := range descriptors {
		f := RemoteField{
			Index:       d.Index,
			Label:       sanitize(d.Label),
			Placeholder: sanitize(d.Placeholder),
			FieldType:   d.Type,
		}
		for _, attr := range wireAttrs {
			if v := d.Attr(attr); v != "" {
				if f.Attributes == nil {
					f.Attributes = make(map[string]string)
				}
				f.Attributes[attr] = sanitize(v)
			}
		}
		for _, text := range d.OptionTexts() {
			if t := sanitize(text); t != "" {
				f.Options = append(f.Options, t)
			}
		}
		req.Fields = append(req.Fields, f)
	}
	return req
}

// ParseClassifications validates a {"classified": [...]} payload and decodes it.
// Values may arrive as strings, numbers or booleans; null becomes "".
func ParseClassifications(data []byte) ([]Classification, error) {
	if err := schemas.ValidateBytes(schemas.ClassifyResponse, data); err != nil {
		return nil, &ParseError{Message: "classification response failed schema validation", Cause: err}
	}
	var out []Classification
	gjson.GetBytes(data, "classified").ForEach(func(_, item gjson.Result) bool {
		c := Classification{
			Index:      int(item.Get("index").Int()),
			Confidence: item.Get("confidence").Float(),
		}
		if v := item.Get("value"); v.Exists() && v.Type != gjson.Null {
			c.Value = strings.TrimSpace(v.String())
		}
		if k := item.Get("key"); k.Type == gjson.String {
			c.Key = k.String()
		}
		out = append(out, c)
		return true
	})
	return out, nil
}

// EndpointClient classifies through the platform's classification endpoint.
type EndpointClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewEndpointClient creates a client for the platform at baseURL.
func NewEndpointClient(baseURL, token string) *EndpointClient {
	return &EndpointClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{},
		Timeout:    DefaultTimeout,
	}
}

// Classify posts one batch and returns the decoded classifications.
func (c *EndpointClient) Classify(ctx context.Context, req *Request) ([]Classification, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &APICallError{Message: "failed to encode request", Cause: err}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+classifyPath, bytes.NewReader(body))
	if err != nil {
		return nil, &APICallError{Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &APICallError{Message: "request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &APICallError{Message: "failed to read response", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APICallError{Message: "classification endpoint returned an error", StatusCode: resp.StatusCode}
	}
	return ParseClassifications(data)
}

// LLMRemote classifies by prompting a language model directly with the profile.
type LLMRemote struct {
	Client llm.Client
	Tier   llm.ModelTier
}

// NewLLMRemote wraps an LLM client.
func NewLLMRemote(client llm.Client) *LLMRemote {
	return &LLMRemote{Client: client, Tier: llm.TierLite}
}

// Classify renders the classification prompt and parses the model's JSON answer.
func (r *LLMRemote) Classify(ctx context.Context, req *Request) ([]Classification, error) {
	if r.Client == nil {
		return nil, &APICallError{Message: "no LLM client configured"}
	}
	fields, err := json.MarshalIndent(req.Fields, "", "  ")
	if err != nil {
		return nil, &APICallError{Message: "failed to encode fields", Cause: err}
	}
	profileJSON := "{}"
	if req.Profile != nil {
		profileJSON = string(req.Profile.Raw())
	}

	prompt, err := prompts.Render(prompts.ClassifyFile, "classify-fields", map[string]string{
		"JobTitle": orDefault(req.JobTitle, "an open role"),
		"Employer": orDefault(req.EmployerName, "an unnamed employer"),
		"Platform": orDefault(req.Platform, "an unknown job board"),
		"Profile":  profileJSON,
		"Fields":   string(fields),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build classification prompt: %w", err)
	}

	text, err := r.Client.Generate(ctx, llm.Request{
		System: prompts.MustGet(prompts.ClassifyFile, prompts.SystemKey),
		Prompt: prompt,
		Tier:   r.Tier,
		JSON:   true,
	})
	if err != nil {
		return nil, &APICallError{Message: "LLM generation failed", Cause: err}
	}
	return ParseClassifications([]byte(llm.CleanJSONBlock(text)))
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
