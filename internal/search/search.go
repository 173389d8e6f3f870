// Package search runs independent candidate-retrieval routes over the record
// store in parallel and merges their hits into one routed result set.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/fsutil"
	"github.com/hpungsan/kapy/internal/logging"
	"github.com/hpungsan/kapy/internal/store"
)

// Per-route limits.
const (
	DefaultPerRouteLimit = 8
	MaxPerRouteLimit     = 100
)

// Route names a retrieval strategy.
type Route string

const (
	RouteChannel Route = "channel"
	RouteActor   Route = "actor"
	RouteKeyword Route = "keyword"
)

// RouteOrder is the fixed order of route labels in results and output.
var RouteOrder = []Route{RouteChannel, RouteActor, RouteKeyword}

// Request describes one search.
type Request struct {
	InChannel     string
	ActorID       string
	Keyword       string
	PerRouteLimit int           // 0 means DefaultPerRouteLimit
	Output        string        // TSV destination; must not exist
	RouteTimeout  time.Duration // 0 means no per-route timeout
}

// Match locates the first keyword hit in a record.
type Match struct {
	// Line is the 1-based line of the detailed log, or the 1-based entry of
	// the compacted list when Source is "compacted".
	Line    int    `json:"line"`
	Source  string `json:"source"`
	Excerpt string `json:"excerpt"`
}

// Result is one merged candidate record.
type Result struct {
	ID       string          `json:"id"`
	Routes   []Route         `json:"routes"`
	Metadata json.RawMessage `json:"metadata"`
	Matches  []Match         `json:"matches"`
}

// RouteStatus reports how a route ended.
type RouteStatus struct {
	Route  Route  `json:"route"`
	Status string `json:"status"`
	Count  int    `json:"count"`
	Error  string `json:"error,omitempty"`
}

// Route status values.
const (
	StatusOK      = "ok"
	StatusEmpty   = "empty"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
)

// Summary is the outcome of a search.
type Summary struct {
	InChannel   string             `json:"in_channel"`
	Output      string             `json:"output,omitempty"`
	Routes      []RouteStatus      `json:"routes"`
	Diagnostics []store.Diagnostic `json:"diagnostics,omitempty"`
	Results     []Result           `json:"results"`
}

// plan is a validated Request.
type plan struct {
	in      channel.Channel
	actor   string
	keyword *regexp.Regexp
	limit   int
	output  string
	timeout time.Duration
}

// Engine runs searches against a store.
type Engine struct {
	store  store.Store
	logger *zap.Logger
}

// New creates an engine over s.
func New(s store.Store, logger *zap.Logger) *Engine {
	return &Engine{store: s, logger: logging.OrNop(logger)}
}

// Run validates req, runs every applicable route concurrently, merges the
// hits and publishes them as TSV at req.Output.
//
// Validation (channel, limit, keyword, destination) happens before the store
// is touched. If ctx ends before the routes finish, in-flight routes are
// abandoned, nothing is written and a CANCELLED error is returned.
func (e *Engine) Run(ctx context.Context, req Request) (*Summary, error) {
	p, err := validate(req, true)
	if err != nil {
		return nil, err
	}
	sum, err := e.collect(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := writeOutput(p.output, sum); err != nil {
		return nil, err
	}
	sum.Output = p.output
	e.logger.Info("search output published",
		zap.String("path", p.output),
		zap.String("in_channel", sum.InChannel),
		zap.Int("results", len(sum.Results)),
	)
	return sum, nil
}

// Collect is Run without an output file.
func (e *Engine) Collect(ctx context.Context, req Request) (*Summary, error) {
	p, err := validate(req, false)
	if err != nil {
		return nil, err
	}
	return e.collect(ctx, p)
}

func (e *Engine) collect(ctx context.Context, p *plan) (*Summary, error) {
	routes := e.routesFor(p)

	// Buffered so routes abandoned on cancellation can still finish.
	outcomes := make(chan outcome, len(routes))
	done := make(chan struct{})

	go func() {
		defer close(done)
		g, gctx := errgroup.WithContext(ctx)
		for _, r := range routes {
			g.Go(func() error {
				outcomes <- e.runRoute(gctx, p, r)
				// Route failures never fail the group.
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-ctx.Done():
		e.logger.Info("search cancelled", zap.String("in_channel", p.in.String()))
		return nil, errors.NewCancelled("search")
	case <-done:
	}
	if ctx.Err() != nil {
		return nil, errors.NewCancelled("search")
	}
	close(outcomes)

	var all []outcome
	for o := range outcomes {
		all = append(all, o)
	}
	all = append(all, skippedRoutes(p)...)

	results, err := Merge(all)
	if err != nil {
		return nil, err
	}
	return &Summary{
		InChannel:   p.in.String(),
		Routes:      statuses(all),
		Diagnostics: diagnostics(all),
		Results:     results,
	}, nil
}

// validate checks req and fills defaults. withOutput requires a fresh
// destination path.
func validate(req Request, withOutput bool) (*plan, error) {
	in, err := channel.Parse(req.InChannel)
	if err != nil {
		return nil, err
	}

	limit := req.PerRouteLimit
	if limit == 0 {
		limit = DefaultPerRouteLimit
	}
	if limit < 1 || limit > MaxPerRouteLimit {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("per-route limit must be between 1 and %d, got %d", MaxPerRouteLimit, req.PerRouteLimit))
	}
	if req.RouteTimeout < 0 {
		return nil, errors.NewInvalidRequest("route timeout must not be negative")
	}

	p := &plan{
		in:      in,
		actor:   strings.TrimSpace(req.ActorID),
		limit:   limit,
		timeout: req.RouteTimeout,
	}

	if req.Keyword != "" {
		re, err := regexp.Compile(req.Keyword)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid keyword pattern: %v", err))
		}
		p.keyword = re
	}

	if withOutput {
		out := strings.TrimSpace(req.Output)
		if out == "" {
			return nil, errors.NewInvalidRequest("output path is required")
		}
		out = filepath.Clean(out)
		exists, err := fsutil.Exists(out)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		if exists {
			return nil, errors.NewDestinationConflict(out)
		}
		if ok, err := fsutil.Exists(filepath.Dir(out)); err != nil {
			return nil, errors.NewInternal(err)
		} else if !ok {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("output directory does not exist: %s", filepath.Dir(out)))
		}
		p.output = out
	}
	return p, nil
}
