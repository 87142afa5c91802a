package prompt

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownTemplate is returned when a buttonId/roleId pair has no
// template in the catalog.
var ErrUnknownTemplate = errors.New("unknown prompt template")

// catalogFile mirrors the YAML layout: buttons carry per-role templates,
// roles is the display catalog for clients.
type catalogFile struct {
	Roles   map[string]roleEntry   `yaml:"roles"`
	Buttons map[string]buttonEntry `yaml:"buttons"`
}

type roleEntry struct {
	Label string `yaml:"label"`
}

type buttonEntry struct {
	Label   string            `yaml:"label"`
	Prompts map[string]string `yaml:"prompts"`
}

// Loader resolves button/role pairs to rendered prompt templates. The
// catalog is read once at construction; templates contain a literal
// "{text}" placeholder substituted at render time.
type Loader struct {
	roles   map[string]roleEntry
	buttons map[string]buttonEntry
}

// Load reads and parses the catalog file.
func Load(path string) (*Loader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Loader from raw YAML.
func Parse(data []byte) (*Loader, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	if len(file.Buttons) == 0 {
		return nil, errors.New("prompt catalog defines no buttons")
	}
	return &Loader{roles: file.Roles, buttons: file.Buttons}, nil
}

// Render resolves the template for buttonID/roleID and substitutes text
// into its "{text}" placeholder.
func (l *Loader) Render(buttonID, roleID, text string) (string, error) {
	button, ok := l.buttons[buttonID]
	if !ok {
		return "", fmt.Errorf("%w: button %q", ErrUnknownTemplate, buttonID)
	}
	template, ok := button.Prompts[roleID]
	if !ok {
		return "", fmt.Errorf("%w: role %q for button %q", ErrUnknownTemplate, roleID, buttonID)
	}
	return strings.ReplaceAll(template, "{text}", text), nil
}

// Buttons returns the catalog's button IDs, sorted.
func (l *Loader) Buttons() []string {
	ids := make([]string, 0, len(l.buttons))
	for id := range l.buttons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Roles returns the catalog's role IDs, sorted.
func (l *Loader) Roles() []string {
	ids := make([]string, 0, len(l.roles))
	for id := range l.roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
