// Package prefs resolves the preference documents that apply to a channel.
package prefs

import (
	_ "embed"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/logging"
)

// File names at the preference root.
const (
	RootFile        = "PREFERENCES.md"
	RootDefaultFile = "PREFERENCES.default.md"
	dirFile         = "PREFERENCES.md"
	byUserDir       = "by_user"
)

// BuiltinPath labels the embedded default document.
const BuiltinPath = "builtin:" + RootDefaultFile

// Source says where a document came from.
type Source string

const (
	SourceRoot    Source = "root"
	SourceDefault Source = "root_default"
	SourceBuiltin Source = "builtin"
	SourceChannel Source = "channel"
	SourceUser    Source = "user"
)

//go:embed default.md
var builtinDefault string

// Document is one resolved preference file.
type Document struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Source  Source `json:"source"`
}

// Resolver reads preference files below a root directory.
type Resolver struct {
	root   string
	logger *zap.Logger
}

// NewResolver creates a resolver for root (usually <base>/preferences).
func NewResolver(root string, logger *zap.Logger) *Resolver {
	return &Resolver{root: root, logger: logging.OrNop(logger)}
}

// Root returns the preference root directory.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve returns the ordered preference documents for inChannel:
//
//  1. PREFERENCES.md at the root, else PREFERENCES.default.md, else the
//     builtin default. Exactly one of these is always returned.
//  2. For each channel prefix root to leaf: <prefix>.md, then
//     <prefix>/PREFERENCES.md.
//  3. <root segment>/by_user/<actorID>.md when actorID is set.
//
// Missing files are skipped.
func (r *Resolver) Resolve(inChannel, actorID string) ([]Document, error) {
	ch, err := channel.Parse(inChannel)
	if err != nil {
		return nil, err
	}
	for _, seg := range ch.Segments() {
		if seg == "." || seg == ".." || strings.ContainsAny(seg, `\`) {
			return nil, errors.NewInvalidChannel(inChannel, "segment would escape the preference root")
		}
	}
	actorID = strings.TrimSpace(actorID)
	if actorID != "" {
		if actorID == "." || actorID == ".." || strings.ContainsAny(actorID, `/\`) {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid actor id %q", actorID))
		}
	}

	docs := []Document{r.rootDocument()}

	for _, prefix := range ch.Ancestors() {
		rel := filepath.FromSlash(prefix.String())
		for _, p := range []string{
			filepath.Join(r.root, rel+".md"),
			filepath.Join(r.root, rel, dirFile),
		} {
			if doc, ok := r.read(p, SourceChannel); ok {
				docs = append(docs, doc)
			}
		}
	}

	if actorID != "" {
		p := filepath.Join(r.root, ch.Root(), byUserDir, actorID+".md")
		if doc, ok := r.read(p, SourceUser); ok {
			docs = append(docs, doc)
		}
	}

	return docs, nil
}

// rootDocument picks the root entry with its fallbacks.
func (r *Resolver) rootDocument() Document {
	if doc, ok := r.read(filepath.Join(r.root, RootFile), SourceRoot); ok {
		return doc
	}
	if doc, ok := r.read(filepath.Join(r.root, RootDefaultFile), SourceDefault); ok {
		return doc
	}
	return Document{Path: BuiltinPath, Content: builtinDefault, Source: SourceBuiltin}
}

// read loads path as a document. Missing or unreadable files report false;
// unreadable ones are logged.
func (r *Resolver) read(path string, src Source) (Document, bool) {
	info, err := os.Stat(path)
	if err != nil {
		if !stderrors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("skipping preference file", zap.String("path", path), zap.Error(err))
		}
		return Document{}, false
	}
	if info.IsDir() {
		return Document{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		r.logger.Warn("skipping preference file", zap.String("path", path), zap.Error(err))
		return Document{}, false
	}
	return Document{Path: path, Content: string(data), Source: src}, true
}

// Render formats docs as a <Preferences> prompt block with one section per
// non-empty document. Returns "" when every document is empty.
func Render(docs []Document) string {
	var blocks []string
	for _, d := range docs {
		text := strings.TrimSpace(d.Content)
		if text == "" {
			continue
		}
		blocks = append(blocks, strings.Join([]string{"Path: " + d.Path, text, "---"}, "\n"))
	}
	if len(blocks) == 0 {
		return ""
	}
	return "<Preferences>\n" + strings.TrimRight(strings.Join(blocks, "\n"), " \n") + "\n</Preferences>"
}
