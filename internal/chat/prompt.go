package chat

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/config"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/session"
)

//go:embed prompts/persona.md
var defaultPersona string

// Persona renders the system prompt for each session from a template and
// the configured character.
type Persona struct {
	tmpl      *template.Template
	character config.Character
}

// personaData is what the template sees.
type personaData struct {
	config.Character
	SessionID   string
	SessionKind string
}

// NewPersona parses tmpl, or the embedded default when tmpl is empty.
func NewPersona(tmpl string, c config.Character) (*Persona, error) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = defaultPersona
	}
	t, err := template.New("persona").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse persona template: %w", err)
	}
	return &Persona{tmpl: t, character: c}, nil
}

// LoadPersona reads the template at path. An empty path selects the
// embedded default.
func LoadPersona(path string, c config.Character) (*Persona, error) {
	if path == "" {
		return NewPersona("", c)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona template: %w", err)
	}
	return NewPersona(string(data), c)
}

// For renders the system prompt for sessionID.
func (p *Persona) For(sessionID string) (string, error) {
	kind, _, err := session.ParseSessionID(sessionID)
	if err != nil {
		kind = ""
	}
	var b strings.Builder
	err = p.tmpl.Execute(&b, personaData{
		Character:   p.character,
		SessionID:   sessionID,
		SessionKind: kind,
	})
	if err != nil {
		return "", fmt.Errorf("render persona: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
