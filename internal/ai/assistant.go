// Package ai drafts answers for application questions the profile cannot
// fill. Suggestions are advisory: nothing here changes an application.
package ai

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/amishk599/hunter/internal/model"
)

const maxDescription = 3000

// Assistant suggests answers keyed by field name.
type Assistant interface {
	Suggest(ctx context.Context, fields []model.DetectedField, description string, profile model.Profile) (map[string]string, error)
}

// LLMAssistant implements Assistant with an LLM provider.
type LLMAssistant struct {
	provider LLMProvider
	tmpl     *template.Template
	logger   *slog.Logger
}

// NewLLMAssistant creates an assistant rendering prompts with tmpl.
func NewLLMAssistant(provider LLMProvider, tmpl *template.Template, logger *slog.Logger) *LLMAssistant {
	return &LLMAssistant{provider: provider, tmpl: tmpl, logger: logger}
}

type promptData struct {
	Profile     string
	Description string
	Questions   []model.DetectedField
}

// Suggest asks the LLM about every text or textarea field still needing
// input. Fields it does not answer are absent from the result.
func (a *LLMAssistant) Suggest(ctx context.Context, fields []model.DetectedField, description string, profile model.Profile) (map[string]string, error) {
	questions := openQuestions(fields)
	if len(questions) == 0 {
		return map[string]string{}, nil
	}

	var prompt bytes.Buffer
	if err := a.tmpl.Execute(&prompt, promptData{
		Profile:     profileSummary(profile),
		Description: model.Truncate(description, maxDescription),
		Questions:   questions,
	}); err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	raw, err := a.provider.Complete(ctx, prompt.String())
	if err != nil {
		return nil, fmt.Errorf("llm complete: %w", err)
	}

	answers := parseAnswers(raw, questions)
	a.logger.Info("generated ai answers", "questions", len(questions), "answers", len(answers))
	return answers, nil
}

func openQuestions(fields []model.DetectedField) []model.DetectedField {
	var out []model.DetectedField
	for _, f := range fields {
		if f.Status == model.FieldNeedsInput && (f.Type == "text" || f.Type == "textarea") {
			out = append(out, f)
		}
	}
	return out
}

func profileSummary(p model.Profile) string {
	parts := []string{"Name: " + p.FullName()}
	if p.DesiredTitle != "" {
		parts = append(parts, "Desired role: "+p.DesiredTitle)
	}
	if p.DesiredLocations != "" {
		parts = append(parts, "Preferred locations: "+p.DesiredLocations)
	}
	if p.RemotePreference != "" {
		parts = append(parts, "Remote preference: "+p.RemotePreference)
	}
	if p.LinkedInURL != "" {
		parts = append(parts, "LinkedIn: "+p.LinkedInURL)
	}
	if p.WebsiteURL != "" {
		parts = append(parts, "Website: "+p.WebsiteURL)
	}
	return strings.Join(parts, "\n")
}

// parseAnswers reads "ANSWER_n:" sections; each runs until the next marker
// or the end of the text.
func parseAnswers(raw string, questions []model.DetectedField) map[string]string {
	answers := make(map[string]string, len(questions))
	for i, q := range questions {
		marker := fmt.Sprintf("ANSWER_%d:", i+1)
		start := strings.Index(raw, marker)
		if start < 0 {
			continue
		}
		start += len(marker)
		end := len(raw)
		if next := strings.Index(raw[start:], fmt.Sprintf("ANSWER_%d:", i+2)); next >= 0 {
			end = start + next
		}
		if answer := strings.TrimSpace(raw[start:end]); answer != "" {
			answers[q.Name] = answer
		}
	}
	return answers
}

// NopAssistant is used when ai.enabled is false.
type NopAssistant struct{}

// Suggest returns an empty map.
func (NopAssistant) Suggest(context.Context, []model.DetectedField, string, model.Profile) (map[string]string, error) {
	return map[string]string{}, nil
}
