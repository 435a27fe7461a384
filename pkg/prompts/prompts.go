// Package prompts loads the prompt templates the agents condition on.
// Templates live in a directory laid out as <name>/<role>.txt and use
// {{placeholder}} substitution tokens. A compiled-in default set is used
// for any template missing on disk, so a bare checkpoint directory works
// out of the box.
package prompts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed templates
var defaultTemplates embed.FS

// Store resolves prompt templates by "<name>/<role>" key.
type Store struct {
	dir   string
	cache map[string]string
}

// NewStore creates a store reading from dir. dir may be empty, in which
// case only the embedded defaults are used.
func NewStore(dir string) *Store {
	return &Store{
		dir:   dir,
		cache: make(map[string]string),
	}
}

// Load returns the raw template for key (e.g. "action/system").
func (s *Store) Load(key string) (string, error) {
	if tmpl, ok := s.cache[key]; ok {
		return tmpl, nil
	}

	if s.dir != "" {
		path := filepath.Join(s.dir, filepath.FromSlash(key)+".txt")
		if data, err := os.ReadFile(path); err == nil {
			tmpl := string(data)
			s.cache[key] = tmpl
			return tmpl, nil
		}
	}

	data, err := defaultTemplates.ReadFile("templates/" + key + ".txt")
	if err != nil {
		return "", fmt.Errorf("prompt %q not found: %w", key, err)
	}
	tmpl := string(data)
	s.cache[key] = tmpl
	return tmpl, nil
}

// Render loads a template and substitutes {{placeholder}} tokens from vars.
// Unknown placeholders are left in place so missing variables are visible in
// the rendered prompt rather than silently dropped.
func (s *Store) Render(key string, vars map[string]string) (string, error) {
	tmpl, err := s.Load(key)
	if err != nil {
		return "", err
	}
	return Substitute(tmpl, vars), nil
}

// Substitute replaces every {{name}} token present in vars.
func Substitute(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
