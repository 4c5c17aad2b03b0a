package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/job-autofill/internal/fetch"
	"github.com/jonathan/job-autofill/internal/llm"
	"github.com/jonathan/job-autofill/internal/settings"
	"github.com/jonathan/job-autofill/internal/types"
)

type fakeLLM struct {
	response string
	err      error
	requests []llm.Request
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.response, f.err
}

func (f *fakeLLM) GetModel(llm.ModelTier) string { return "fake" }

func (f *fakeLLM) Close() error { return nil }

func TestNewRequest_SanitizesPageText(t *testing.T) {
	d := types.FieldDescriptor{
		Index:       7,
		Type:        "select-one",
		Label:       "<b>Salary</b> &amp; bonus <script>alert(1)</script>",
		Placeholder: "  Pick   one ",
		Options:     []types.Option{{Value: "", Text: " "}, {Value: "1", Text: "<i>100k</i>"}},
		Attributes:  map[string]string{"data-qa": "comp", "style": "color:red"},
	}
	req := NewRequest(fetch.PageContext{JobTitle: "R&D <em>Lead</em>", Employer: "Acme"}, []types.FieldDescriptor{d}, nil)

	assert.Equal(t, "R&D Lead", req.JobTitle)
	require.Len(t, req.Fields, 1)
	f := req.Fields[0]
	assert.Equal(t, 7, f.Index)
	assert.Equal(t, "Salary & bonus", f.Label)
	assert.Equal(t, "Pick one", f.Placeholder)
	assert.Equal(t, []string{"100k"}, f.Options)
	assert.Equal(t, map[string]string{"data-qa": "comp"}, f.Attributes)
}

func TestParseClassifications(t *testing.T) {
	got, err := ParseClassifications([]byte(`{"classified":[
		{"index":0,"value":"Yes","key":"sponsorship","confidence":0.9},
		{"index":1,"value":5,"confidence":0.4},
		{"index":2,"value":true,"confidence":0.3},
		{"index":3,"value":null,"key":null,"confidence":0}
	]}`))
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, Classification{Index: 0, Key: "sponsorship", Value: "Yes", Confidence: 0.9}, got[0])
	assert.Equal(t, "5", got[1].Value)
	assert.Equal(t, "true", got[2].Value)
	assert.Empty(t, got[3].Value)
	assert.Empty(t, got[3].Key)

	_, err = ParseClassifications([]byte(`{"classified":[{"index":0,"confidence":7}]}`))
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)

	_, err = ParseClassifications([]byte(`{"results":[]}`))
	assert.Error(t, err)
}

func TestEndpointClient_Classify(t *testing.T) {
	var got Request
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/extension/classify", r.URL.Path)
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"classified":[{"index":3,"value":"Austin","confidence":0.75}]}`))
	}))
	defer server.Close()

	client := NewEndpointClient(server.URL+"/", "tok")
	req := NewRequest(fetch.PageContext{JobTitle: "Nurse", Employer: "General"}, []types.FieldDescriptor{{Index: 3, Type: "text", Label: "Preferred site"}}, nil)
	res, err := client.Classify(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "Nurse", got.JobTitle)
	assert.Equal(t, "General", got.EmployerName)
	require.Len(t, got.Fields, 1)
	assert.Equal(t, "Preferred site", got.Fields[0].Label)
	assert.Equal(t, []Classification{{Index: 3, Value: "Austin", Confidence: 0.75}}, res)
}

func TestEndpointClient_Errors(t *testing.T) {
	status := http.StatusServiceUnavailable
	body := `{}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := NewEndpointClient(server.URL, "")
	_, err := client.Classify(context.Background(), &Request{})
	var apiErr *APICallError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "HTTP 503")

	status = http.StatusOK
	body = `{"classified":"nope"}`
	_, err = client.Classify(context.Background(), &Request{})
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestLLMRemote_Classify(t *testing.T) {
	model := &fakeLLM{response: "```json\n{\"classified\":[{\"index\":1,\"key\":\"npiNumber\",\"value\":\"1234567890\",\"confidence\":0.8}]}\n```"}
	remote := NewLLMRemote(model)
	req := NewRequest(fetch.PageContext{JobTitle: "Nurse Practitioner"}, []types.FieldDescriptor{{Index: 1, Type: "text", Label: "Provider ID"}}, janeProfile())

	res, err := remote.Classify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []Classification{{Index: 1, Key: "npiNumber", Value: "1234567890", Confidence: 0.8}}, res)

	require.Len(t, model.requests, 1)
	sent := model.requests[0]
	assert.True(t, sent.JSON)
	assert.Equal(t, llm.TierLite, sent.Tier)
	assert.NotEmpty(t, sent.System)
	assert.Contains(t, sent.Prompt, "Nurse Practitioner")
	assert.Contains(t, sent.Prompt, "an unnamed employer")
	assert.Contains(t, sent.Prompt, "Provider ID")
	assert.Contains(t, sent.Prompt, `"firstName":"Jane"`)
}

func TestLLMRemote_Errors(t *testing.T) {
	_, err := (&LLMRemote{}).Classify(context.Background(), &Request{})
	assert.Error(t, err)

	model := &fakeLLM{err: errors.New("quota exceeded")}
	_, err = NewLLMRemote(model).Classify(context.Background(), &Request{})
	var apiErr *APICallError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, err.Error(), "quota exceeded")

	model = &fakeLLM{response: "I cannot help with that."}
	_, err = NewLLMRemote(model).Classify(context.Background(), &Request{})
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestGenerator_Generate(t *testing.T) {
	model := &fakeLLM{response: `{"answers":[{"index":4,"answer":"  I build reliable systems. "},{"index":9,"answer":"ignored"}]}`}
	s := settings.Defaults()
	s.AIResponseLength = settings.LengthBrief
	g := NewGenerator(model, s, zerolog.Nop())

	fields := []types.MappedField{
		{Descriptor: types.FieldDescriptor{Index: 3, Label: "Email"}, FillMethod: types.MethodText, Value: "jane@example.com"},
		{Descriptor: types.FieldDescriptor{Index: 4, Label: "Why <b>us</b>?"}, FillMethod: types.MethodAIGenerate, RequiresAI: true, Status: types.StatusAmbiguous},
	}
	n, err := g.Generate(context.Background(), fetch.PageContext{JobTitle: "SRE", Employer: "Hooli"}, janeProfile(), fields)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, "I build reliable systems.", fields[1].Value)
	assert.Equal(t, types.SourceAI, fields[1].Source)
	assert.Equal(t, types.StatusMapped, fields[1].Status)
	assert.True(t, fields[1].RequiresAI, "answers stay in review when alwaysReviewAI is on")

	prompt := model.requests[0].Prompt
	assert.Contains(t, prompt, "one or two sentences")
	assert.Contains(t, prompt, "Why us?")
	assert.Contains(t, prompt, "Hooli")
}

func TestGenerator_NoReviewAndNothingToDo(t *testing.T) {
	model := &fakeLLM{response: `{"answers":[{"index":0,"answer":"Because."}]}`}
	s := settings.Defaults()
	s.AlwaysReviewAI = false
	g := NewGenerator(model, s, zerolog.Nop())

	n, err := g.Generate(context.Background(), fetch.PageContext{}, nil, []types.MappedField{
		{Descriptor: types.FieldDescriptor{Index: 0}, FillMethod: types.MethodAIGenerate},
	})
	require.NoError(t, err)
	assert.Zero(t, n, "fields without a question are skipped")
	assert.Empty(t, model.requests)

	fields := []types.MappedField{{Descriptor: types.FieldDescriptor{Index: 0, Label: "Why?"}, FillMethod: types.MethodAIGenerate, RequiresAI: true}}
	n, err = g.Generate(context.Background(), fetch.PageContext{}, nil, fields)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, fields[0].RequiresAI)
}

func TestGenerator_Errors(t *testing.T) {
	fields := []types.MappedField{{Descriptor: types.FieldDescriptor{Index: 0, Label: "Why?"}, FillMethod: types.MethodAIGenerate}}

	g := NewGenerator(&fakeLLM{response: `{"answers":"x"}`}, settings.Defaults(), zerolog.Nop())
	_, err := g.Generate(context.Background(), fetch.PageContext{}, nil, fields)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
	assert.Empty(t, fields[0].Value)

	g = NewGenerator(&fakeLLM{err: errors.New("down")}, settings.Defaults(), zerolog.Nop())
	_, err = g.Generate(context.Background(), fetch.PageContext{}, nil, fields)
	assert.Error(t, err)
}

func TestGenerator_Draft(t *testing.T) {
	model := &fakeLLM{response: "  Five years of on-call experience.\n"}
	s := settings.Defaults()
	s.AIResponseLength = settings.LengthDetailed
	g := NewGenerator(model, s, zerolog.Nop())

	answer, err := g.Draft(context.Background(), fetch.PageContext{JobTitle: "SRE"}, janeProfile(), "Describe your on-call experience")
	require.NoError(t, err)
	assert.Equal(t, "Five years of on-call experience.", answer)
	assert.False(t, model.requests[0].JSON)
	assert.Contains(t, model.requests[0].Prompt, "two paragraphs")
}
