package skills

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/kapy/internal/errors"
)

// FileName is the document that marks a skill directory.
const FileName = "SKILLS.md"

// frontMatterDelim opens and closes a YAML front matter block.
const frontMatterDelim = "---"

// FrontMatter is the optional YAML header of a SKILLS.md file.
type FrontMatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// DirRegistry finds skills at <root>/<group>/<kind>/SKILLS.md.
type DirRegistry struct {
	root string
}

// NewDirRegistry creates a registry over root (usually <base>/skills).
func NewDirRegistry(root string) *DirRegistry {
	return &DirRegistry{root: root}
}

// Lookup implements Registry.
func (r *DirRegistry) Lookup(name string) (*Skill, error) {
	if !validName(name) {
		return nil, errors.NewUnknownSkill(name)
	}
	path := filepath.Join(r.root, filepath.FromSlash(name), FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewUnknownSkill(name)
		}
		return nil, errors.NewInternal(fmt.Errorf("read skill %s: %w", name, err))
	}

	fm, body, err := ParseFrontMatter(data)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("skill %s: invalid front matter: %v", name, err))
	}
	return &Skill{
		Name:        name,
		Title:       fm.Name,
		Description: fm.Description,
		Path:        path,
		Body:        body,
	}, nil
}

// validName accepts "<group>/<kind>" with no path tricks in either part.
func validName(name string) bool {
	parts := strings.Split(name, "/")
	if len(parts) != 2 {
		return false
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `\`) {
			return false
		}
	}
	return true
}

// ParseFrontMatter splits an optional leading YAML block from the markdown
// body. Documents without front matter return a zero FrontMatter.
func ParseFrontMatter(data []byte) (FrontMatter, string, error) {
	var fm FrontMatter
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if strings.TrimSpace(lines[0]) != frontMatterDelim {
		return fm, text, nil
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != frontMatterDelim {
			continue
		}
		header := strings.Join(lines[1:i], "\n")
		body := strings.Join(lines[i+1:], "\n")
		if strings.TrimSpace(header) != "" {
			if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
				return FrontMatter{}, "", err
			}
		}
		return fm, body, nil
	}
	return fm, "", fmt.Errorf("unterminated front matter")
}
