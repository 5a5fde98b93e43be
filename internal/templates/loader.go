// Package templates loads operator-editable message texts from
// <dir>/<name>/TEMPLATE.md files with YAML frontmatter.
package templates

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const templateFileName = "TEMPLATE.md"

// Names of the messages that can be overridden.
const (
	SuggestionReminder    = "suggestion_reminder"
	HelpReminder          = "help_reminder"
	SuggestCreateReminder = "suggest_create_reminder"
	Welcome               = "welcome"
	Goodbye               = "goodbye"
)

var errInvalidTemplateYAML = errors.New("invalid template YAML frontmatter")

type templateFrontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Disabled    bool   `yaml:"disabled"`
}

type Template struct {
	Name        string
	Description string
	Body        string
	Path        string
}

// Set is a loaded group of templates keyed by name.
type Set map[string]Template

// Text returns the body of the named template, or fallback when it is
// not defined.
func (s Set) Text(name, fallback string) string {
	if t, ok := s[name]; ok && t.Body != "" {
		return t.Body
	}
	return fallback
}

// Names lists the loaded template names in order.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func LoadTemplates(dir string) (Set, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return Set{}, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Set{}, nil
		}
		return nil, fmt.Errorf("stat templates dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("templates path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read templates dir %q: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	set := make(Set, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), templateFileName)
		tpl, skip, err := parseTemplateFile(path)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		if prev, exists := set[tpl.Name]; exists {
			return nil, fmt.Errorf("duplicate template name %q in %s (already in %s)", tpl.Name, path, prev.Path)
		}
		set[tpl.Name] = tpl
	}
	return set, nil
}

func parseTemplateFile(path string) (Template, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Template{}, true, nil
		}
		return Template{}, false, fmt.Errorf("read template %q: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		if errors.Is(err, errInvalidTemplateYAML) {
			log.Printf("[templates] warning: skip invalid YAML template %s: %v", path, err)
			return Template{}, true, nil
		}
		return Template{}, false, fmt.Errorf("parse template %q: %w", path, err)
	}
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		return Template{}, false, fmt.Errorf("parse template %q: missing name", path)
	}
	if meta.Disabled {
		return Template{}, true, nil
	}

	return Template{
		Name:        name,
		Description: strings.TrimSpace(meta.Description),
		Body:        strings.TrimSpace(body),
		Path:        path,
	}, false, nil
}

func parseFrontmatter(content []byte) (templateFrontmatter, string, error) {
	text := strings.TrimPrefix(string(content), "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return templateFrontmatter{}, "", errors.New("missing YAML frontmatter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return templateFrontmatter{}, "", errors.New("missing closing frontmatter separator")
	}

	var meta templateFrontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &meta); err != nil {
		return templateFrontmatter{}, "", fmt.Errorf("%w: %v", errInvalidTemplateYAML, err)
	}
	return meta, strings.Join(lines[end+1:], "\n"), nil
}

// Expand substitutes {mention}, {name} and {server} placeholders.
func Expand(text, mention, name, server string) string {
	return strings.NewReplacer(
		"{mention}", mention,
		"{name}", name,
		"{server}", server,
	).Replace(text)
}
