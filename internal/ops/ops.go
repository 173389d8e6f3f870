// Package ops implements the operations exposed by the CLI, the MCP server
// and the web UI. Each operation validates its input before touching storage.
package ops

import (
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/config"
	"github.com/hpungsan/kapy/internal/logging"
	"github.com/hpungsan/kapy/internal/prefs"
	"github.com/hpungsan/kapy/internal/skills"
	"github.com/hpungsan/kapy/internal/store"
)

// Limits
const (
	DefaultScanLimit         = 20
	MaxScanLimit             = 100
	DefaultNeighborhoodDepth = 3
	MaxNeighborhoodDepth     = 10
	MaxCompactLines          = 100
)

// ExportsDirName is the output directory under the base dir.
const ExportsDirName = "exports"

// Env carries the collaborators operations share.
type Env struct {
	Store   store.Store
	Config  *config.Config
	BaseDir string
	Logger  *zap.Logger

	// Skills overrides the registry built from Config.SkillsDir.
	Skills skills.Registry

	// Now is used for default output file names and export headers.
	Now func() time.Time
}

// NewEnv builds an Env for baseDir. cfg may be nil.
func NewEnv(s store.Store, cfg *config.Config, baseDir string, logger *zap.Logger) *Env {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Env{
		Store:   s,
		Config:  cfg,
		BaseDir: baseDir,
		Logger:  logging.OrNop(logger),
		Now:     time.Now,
	}
}

// ExportsDir returns <base>/exports.
func (e *Env) ExportsDir() string {
	return filepath.Join(e.BaseDir, ExportsDirName)
}

// Preferences returns a resolver over the configured preference root.
func (e *Env) Preferences() *prefs.Resolver {
	return prefs.NewResolver(config.Resolve(e.BaseDir, e.Config.PreferencesDir), e.Logger)
}

// Registry returns the skill registry.
func (e *Env) Registry() skills.Registry {
	if e.Skills != nil {
		return e.Skills
	}
	return skills.NewDirRegistry(config.Resolve(e.BaseDir, e.Config.SkillsDir))
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Env) logger() *zap.Logger {
	return logging.OrNop(e.Logger)
}
