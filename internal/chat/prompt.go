package chat

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/suPer8Hu/smart-doctor/internal/ai"
)

//go:embed prompts/doctor.toml
var defaultPromptTOML string

// PromptTemplate holds the fixed instructions and the labels used to render history.
type PromptTemplate struct {
	System         string `toml:"system"`
	HistoryHeader  string `toml:"history_header"`
	QuestionHeader string `toml:"question_header"`
	UserLabel      string `toml:"user_label"`
	AssistantLabel string `toml:"assistant_label"`
}

// DefaultPrompt returns the embedded Smart Doctor template.
func DefaultPrompt() PromptTemplate {
	p, err := parsePrompt(defaultPromptTOML)
	if err != nil {
		panic(fmt.Sprintf("embedded prompt is invalid: %v", err))
	}
	return p
}

// LoadPrompt reads a template file; empty fields keep the embedded defaults.
func LoadPrompt(path string) (PromptTemplate, error) {
	base := DefaultPrompt()
	var override PromptTemplate
	if _, err := toml.DecodeFile(path, &override); err != nil {
		return PromptTemplate{}, fmt.Errorf("error decoding prompt file: %w", err)
	}
	if override.System != "" {
		base.System = override.System
	}
	if override.HistoryHeader != "" {
		base.HistoryHeader = override.HistoryHeader
	}
	if override.QuestionHeader != "" {
		base.QuestionHeader = override.QuestionHeader
	}
	if override.UserLabel != "" {
		base.UserLabel = override.UserLabel
	}
	if override.AssistantLabel != "" {
		base.AssistantLabel = override.AssistantLabel
	}
	return base, nil
}

func parsePrompt(src string) (PromptTemplate, error) {
	var p PromptTemplate
	if _, err := toml.Decode(src, &p); err != nil {
		return PromptTemplate{}, err
	}
	if strings.TrimSpace(p.System) == "" {
		return PromptTemplate{}, errors.New("system prompt is empty")
	}
	return p, nil
}

// Build renders the provider messages: the system rules, then one user turn
// carrying the previous conversation and the quoted current question.
func (p PromptTemplate) Build(message Message, history []Message) []ai.Message {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString(p.HistoryHeader)
		b.WriteString("\n")
		for i, m := range history {
			if i > 0 {
				b.WriteString("\n")
			}
			label := p.AssistantLabel
			if m.IsUserMessage {
				label = p.UserLabel
			}
			b.WriteString(label)
			b.WriteString(": ")
			b.WriteString(m.Content)
		}
		b.WriteString("\n\n")
		b.WriteString(p.QuestionHeader)
		b.WriteString("\n")
	}
	b.WriteString(`"` + message.Content + `"`)

	return []ai.Message{
		{Role: ai.RoleSystem, Content: strings.TrimSpace(p.System)},
		{Role: ai.RoleUser, Content: b.String()},
	}
}
