package provider

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultPersona = "You are XSanitaz, a culturally sensitive mental health assistant for young people. Be empathetic, respectful, and supportive."

// Persona is the fixed system directive prepended to every LLM-chat call.
type Persona struct {
	System      string  `yaml:"system"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

func DefaultPersona() Persona {
	return Persona{System: defaultPersona}
}

// LoadPersona reads a persona YAML file. A missing file yields DefaultPersona;
// a file that exists but cannot be parsed is an error.
func LoadPersona(path string) (Persona, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPersona(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultPersona(), nil
		}
		return Persona{}, err
	}
	var p Persona
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona %s: %w", path, err)
	}
	p.System = strings.TrimSpace(p.System)
	if p.System == "" {
		p.System = defaultPersona
	}
	return p, nil
}
