package ai

import (
	"fmt"
	"strings"
)

// ModelRef names one entry of the model priority list.
type ModelRef struct {
	Provider string
	Model    string
}

func (m ModelRef) String() string {
	return m.Provider + ":" + m.Model
}

// ParseModelRef parses "provider:model". The model part may itself contain colons
// (e.g. "ollama:llama3:latest").
func ParseModelRef(s string) (ModelRef, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ModelRef{}, fmt.Errorf("invalid model %q (expected provider:model)", s)
	}
	p := strings.ToLower(strings.TrimSpace(parts[0]))
	m := strings.TrimSpace(parts[1])
	if p == "" || m == "" {
		return ModelRef{}, fmt.Errorf("invalid model %q: provider and model cannot be empty", s)
	}
	return ModelRef{Provider: p, Model: m}, nil
}

// ParseModelList parses a comma separated priority list, keeping declared order.
// Blank entries are skipped.
func ParseModelList(s string) ([]ModelRef, error) {
	var out []ModelRef
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		ref, err := ParseModelRef(item)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}
