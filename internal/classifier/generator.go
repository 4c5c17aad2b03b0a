package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/jonathan/job-autofill/internal/fetch"
	"github.com/jonathan/job-autofill/internal/llm"
	"github.com/jonathan/job-autofill/internal/profile"
	"github.com/jonathan/job-autofill/internal/prompts"
	"github.com/jonathan/job-autofill/internal/schemas"
	"github.com/jonathan/job-autofill/internal/settings"
	"github.com/jonathan/job-autofill/internal/types"
)

// Generator drafts answers to open-ended questions through an LLM.
type Generator struct {
	client llm.Client
	tier   llm.ModelTier
	length settings.ResponseLength
	// review keeps drafted answers out of the fill pass until the user approves them.
	review bool
	logger zerolog.Logger
}

// NewGenerator creates a generator honouring the answer-length and review settings.
func NewGenerator(client llm.Client, s settings.Settings, logger zerolog.Logger) *Generator {
	return &Generator{
		client: client,
		tier:   llm.TierStandard,
		length: s.AIResponseLength,
		review: s.AlwaysReviewAI,
		logger: logger.With().Str("component", "generator").Logger(),
	}
}

type question struct {
	Index    int    `json:"index"`
	Question string `json:"question"`
}

// Generate drafts an answer for every ai_generate field without a value and
// updates the fields in place. It returns the number of answers drafted.
func (g *Generator) Generate(ctx context.Context, page fetch.PageContext, p *profile.Profile, fields []types.MappedField) (int, error) {
	byIndex := make(map[int]int)
	var questions []question
	for i, f := range fields {
		if f.FillMethod != types.MethodAIGenerate || f.Value != "" {
			continue
		}
		text := sanitize(f.Descriptor.Identifier())
		if text == "" {
			continue
		}
		byIndex[f.Descriptor.Index] = i
		questions = append(questions, question{Index: f.Descriptor.Index, Question: text})
	}
	if len(questions) == 0 {
		return 0, nil
	}

	encoded, err := json.MarshalIndent(questions, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode questions: %w", err)
	}
	prompt, err := prompts.Render(prompts.GenerateFile, "answer-questions", g.promptData(page, p, map[string]string{
		"Questions": string(encoded),
	}))
	if err != nil {
		return 0, fmt.Errorf("failed to build answer prompt: %w", err)
	}

	text, err := g.client.Generate(ctx, llm.Request{
		System: prompts.MustGet(prompts.GenerateFile, prompts.SystemKey),
		Prompt: prompt,
		Tier:   g.tier,
		JSON:   true,
	})
	if err != nil {
		return 0, &APICallError{Message: "LLM generation failed", Cause: err}
	}
	data := []byte(llm.CleanJSONBlock(text))
	if err := schemas.ValidateBytes(schemas.GenerateResponse, data); err != nil {
		return 0, &ParseError{Message: "answer response failed schema validation", Cause: err}
	}

	drafted := 0
	gjson.GetBytes(data, "answers").ForEach(func(_, item gjson.Result) bool {
		i, ok := byIndex[int(item.Get("index").Int())]
		answer := strings.TrimSpace(item.Get("answer").String())
		if !ok || answer == "" {
			return true
		}
		f := &fields[i]
		f.Value = answer
		f.Source = types.SourceAI
		f.Status = types.StatusMapped
		f.RequiresAI = g.review
		drafted++
		return true
	})
	g.logger.Debug().Int("questions", len(questions)).Int("drafted", drafted).Msg("drafted answers")
	return drafted, nil
}

// Draft answers a single question as plain text.
func (g *Generator) Draft(ctx context.Context, page fetch.PageContext, p *profile.Profile, questionText string) (string, error) {
	prompt, err := prompts.Render(prompts.GenerateFile, "answer-question", g.promptData(page, p, map[string]string{
		"Question": sanitize(questionText),
	}))
	if err != nil {
		return "", fmt.Errorf("failed to build answer prompt: %w", err)
	}
	text, err := g.client.Generate(ctx, llm.Request{
		System: prompts.MustGet(prompts.GenerateFile, prompts.SystemKey),
		Prompt: prompt,
		Tier:   g.tier,
	})
	if err != nil {
		return "", &APICallError{Message: "LLM generation failed", Cause: err}
	}
	return strings.TrimSpace(text), nil
}

func (g *Generator) promptData(page fetch.PageContext, p *profile.Profile, extra map[string]string) map[string]string {
	length := g.length
	if length == "" {
		length = settings.LengthStandard
	}
	profileJSON := "{}"
	if p != nil {
		profileJSON = string(p.Raw())
	}
	data := map[string]string{
		"JobTitle": orDefault(sanitize(page.JobTitle), "an open role"),
		"Employer": orDefault(sanitize(page.Employer), "an unnamed employer"),
		"Profile":  profileJSON,
		"Length":   prompts.MustGet(prompts.GenerateFile, "length-"+string(length)),
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}
