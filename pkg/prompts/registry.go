// Package prompts resolves (stage, version) pairs to immutable prompt
// templates. Templates are loaded once from the embedded filesystem at
// construction and are read-only for the process lifetime.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed templates
var templatesFS embed.FS

// ErrVersionNotFound is returned when a stage has no template registered
// under the requested version.
var ErrVersionNotFound = errors.New("prompt version not found")

// Prompt is one immutable resolved template pair.
type Prompt struct {
	Stage   string
	Version string
	System  string // system instructions
	User    string // user prompt template with {{PLACEHOLDER}} slots
}

// Registry holds all registered templates, keyed by stage then version.
type Registry struct {
	prompts map[string]map[string]Prompt
}

// NewRegistry loads all templates from the embedded filesystem. Each
// version directory contains a `<stage>.md` user template and a
// `<stage>_system.md` system prompt.
func NewRegistry() (*Registry, error) {
	r := &Registry{prompts: make(map[string]map[string]Prompt)}

	versions, err := fs.ReadDir(templatesFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}

	for _, versionDir := range versions {
		if !versionDir.IsDir() {
			continue
		}
		version := versionDir.Name()
		entries, err := fs.ReadDir(templatesFS, "templates/"+version)
		if err != nil {
			return nil, fmt.Errorf("failed to read templates/%s: %w", version, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasSuffix(name, ".md") || strings.HasSuffix(name, "_system.md") {
				continue
			}
			stage := strings.TrimSuffix(name, ".md")

			user, err := loadTemplate(version, stage+".md")
			if err != nil {
				return nil, err
			}
			system, err := loadTemplate(version, stage+"_system.md")
			if err != nil {
				return nil, fmt.Errorf("stage %s/%s has no system prompt: %w", stage, version, err)
			}

			if r.prompts[stage] == nil {
				r.prompts[stage] = make(map[string]Prompt)
			}
			r.prompts[stage][version] = Prompt{
				Stage:   stage,
				Version: version,
				System:  system,
				User:    user,
			}
		}
	}

	if len(r.prompts) == 0 {
		return nil, errors.New("no prompt templates found")
	}
	return r, nil
}

func loadTemplate(version, name string) (string, error) {
	data, err := templatesFS.ReadFile("templates/" + version + "/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read %s/%s: %w", version, name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Resolve returns the template registered for (stage, version). Resolution
// is a pure function of the registered templates.
func (r *Registry) Resolve(stage, version string) (Prompt, error) {
	byVersion, ok := r.prompts[stage]
	if !ok {
		return Prompt{}, fmt.Errorf("stage %q version %q: %w", stage, version, ErrVersionNotFound)
	}
	p, ok := byVersion[version]
	if !ok {
		return Prompt{}, fmt.Errorf("stage %q version %q: %w", stage, version, ErrVersionNotFound)
	}
	return p, nil
}

// ListVersions returns the registered versions for a stage in sorted order.
// Operational tooling only, not on the hot path.
func (r *Registry) ListVersions(stage string) []string {
	byVersion, ok := r.prompts[stage]
	if !ok {
		return nil
	}
	versions := make([]string, 0, len(byVersion))
	for v := range byVersion {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Render substitutes {{KEY}} placeholders in a template.
func Render(template string, vars map[string]string) string {
	out := template
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}
