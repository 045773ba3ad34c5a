package ai

import (
	_ "embed"
	"text/template"
)

//go:embed prompts/field_answers.md
var fieldAnswersPromptRaw string

// FieldAnswersTemplate is the prompt used to draft answers for free-text
// application questions.
var FieldAnswersTemplate = template.Must(template.New("field_answers").
	Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
	Parse(fieldAnswersPromptRaw))
