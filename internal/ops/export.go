package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/fsutil"
	"github.com/hpungsan/kapy/internal/record"
	"github.com/hpungsan/kapy/internal/store"
)

// ExportSchemaVersion is written in the export header line.
const ExportSchemaVersion = "1.0"

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path    string // optional, default: <base>/exports/<channel|all>-<timestamp>.jsonl
	Channel string // optional prefix filter
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path        string             `json:"path"`
	Count       int                `json:"count"`
	ExportedAt  int64              `json:"exported_at"`
	Diagnostics []store.Diagnostic `json:"diagnostics,omitempty"`
}

// ExportHeader represents the header line in a JSONL export file.
type ExportHeader struct {
	KapyExport    bool   `json:"_kapy_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
	Channel       string `json:"channel,omitempty"`
}

// Export writes records to a JSONL file: a header line, then one record per
// line in ascending id order. The file is written to a temp sibling and
// renamed into place, so a failed export leaves any existing file intact.
func Export(ctx context.Context, env *Env, input ExportInput) (*ExportOutput, error) {
	var scope channel.Channel
	name := "all"
	if strings.TrimSpace(input.Channel) != "" {
		c, err := channel.Parse(input.Channel)
		if err != nil {
			return nil, err
		}
		scope = c
		name = c.String()
	}

	now := env.now()
	exportsDir := env.ExportsDir()
	exportPath := input.Path
	if exportPath == "" {
		exportPath = defaultOutputPath(exportsDir, "export", name, ExtJSONL, env)
	}

	// Validate ALL paths (both user-provided and default).
	if err := ValidateOutputPath(exportPath, ExtJSONL, exportsDir, env.Config); err != nil {
		return nil, err
	}
	if err := ensureExportsDir(exportPath, exportsDir); err != nil {
		return nil, err
	}

	all := func(*record.Record) bool { return true }
	res, err := env.Store.ScanByPredicate(ctx, all, scope, 0)
	if err != nil {
		return nil, err
	}

	header := ExportHeader{
		KapyExport:    true,
		SchemaVersion: ExportSchemaVersion,
		ExportedAt:    now.Unix(),
		Channel:       scope.String(),
	}

	err = fsutil.WriteReplace(exportPath, 0600, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		if err := enc.Encode(header); err != nil {
			return err
		}
		for _, r := range res.Records {
			if ctx.Err() != nil {
				return errors.NewCancelled("export")
			}
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errors.ErrCancelled) {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to write export: %w", err))
	}

	env.logger().Info("export written",
		zap.String("path", exportPath),
		zap.Int("count", len(res.Records)),
	)
	return &ExportOutput{
		Path:        exportPath,
		Count:       len(res.Records),
		ExportedAt:  now.Unix(),
		Diagnostics: res.Diagnostics,
	}, nil
}
