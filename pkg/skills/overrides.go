package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Override replaces the prompt-facing text of a registered skill. Overrides
// are read from SKILL.md files so operators can tune how skills are described
// to the model without rebuilding.
type Override struct {
	Name        string
	Description string
	Metadata    map[string]string
	Body        string
	Path        string
	Dir         string
}

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:[_-][a-z0-9]+)*$`)

// LoadOverrides scans root for <skill-name>/SKILL.md files and returns them
// keyed by skill name. A missing root yields no overrides.
func LoadOverrides(root string) (map[string]Override, error) {
	out := make(map[string]Override)
	if root == "" {
		return out, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillPath := filepath.Join(root, entry.Name(), "SKILL.md")
		if _, err := os.Stat(skillPath); err != nil {
			continue
		}
		ov, err := LoadFile(skillPath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", skillPath, err)
		}
		out[ov.Name] = ov
	}
	return out, nil
}

// LoadFile parses a single SKILL.md file.
func LoadFile(path string) (Override, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Override{}, err
	}
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Override{}, err
	}
	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return Override{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	ov := Override{
		Name:        strings.TrimSpace(parsed.Name),
		Description: strings.TrimSpace(parsed.Description),
		Metadata:    parsed.Metadata,
		Body:        strings.TrimSpace(body),
		Path:        path,
		Dir:         filepath.Dir(path),
	}
	if err := validate(ov); err != nil {
		return Override{}, err
	}
	return ov, nil
}

type frontmatter struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Metadata    map[string]string `yaml:"metadata"`
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", errors.New("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", errors.New("invalid frontmatter")
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}

func validate(ov Override) error {
	if ov.Name == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(ov.Name) > maxNameLen {
		return fmt.Errorf("name exceeds %d characters", maxNameLen)
	}
	if !namePattern.MatchString(ov.Name) {
		return fmt.Errorf("name must match %s", namePattern.String())
	}
	if dirName := filepath.Base(ov.Dir); dirName != ov.Name {
		return fmt.Errorf("name must match directory name (%s)", dirName)
	}
	if ov.Description == "" {
		return errors.New("description is required")
	}
	if utf8.RuneCountInString(ov.Description) > maxDescriptionLen {
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	}
	return nil
}
