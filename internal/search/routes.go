package search

import (
	"context"
	stderrors "errors"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/record"
	"github.com/hpungsan/kapy/internal/store"
)

// excerptRadius is the number of runes kept on each side of a keyword match.
const excerptRadius = 60

// hit is one record a route returned.
type hit struct {
	rec   *record.Record
	match *Match
}

// outcome is what a single route produced.
type outcome struct {
	route  Route
	status string
	hits   []hit
	diags  []store.Diagnostic
	err    error
}

// routeFunc performs one route's scan.
type routeFunc func(ctx context.Context) (*store.ScanResult, map[string]Match, error)

type routeTask struct {
	route Route
	run   routeFunc
}

// routesFor returns the routes that apply to p.
func (e *Engine) routesFor(p *plan) []routeTask {
	tasks := []routeTask{{
		route: RouteChannel,
		run: func(ctx context.Context) (*store.ScanResult, map[string]Match, error) {
			res, err := e.store.ScanByPrefix(ctx, p.in, p.limit)
			return res, nil, err
		},
	}}

	if p.actor != "" {
		scope := p.in.RootChannel()
		actor := p.actor
		tasks = append(tasks, routeTask{
			route: RouteActor,
			run: func(ctx context.Context) (*store.ScanResult, map[string]Match, error) {
				pred := func(r *record.Record) bool { return r.Actor() == actor }
				res, err := e.store.ScanByPredicate(ctx, pred, scope, p.limit)
				return res, nil, err
			},
		})
	}

	if p.keyword != nil {
		re := p.keyword
		tasks = append(tasks, routeTask{
			route: RouteKeyword,
			run: func(ctx context.Context) (*store.ScanResult, map[string]Match, error) {
				var mu sync.Mutex
				matches := make(map[string]Match)
				pred := func(r *record.Record) bool {
					m, ok := FirstMatch(re, r)
					if ok {
						mu.Lock()
						matches[r.ID] = m
						mu.Unlock()
					}
					return ok
				}
				res, err := e.store.ScanByPredicate(ctx, pred, p.in, p.limit)
				return res, matches, err
			},
		})
	}
	return tasks
}

// skippedRoutes reports the routes p does not run.
func skippedRoutes(p *plan) []outcome {
	var out []outcome
	if p.actor == "" {
		out = append(out, outcome{route: RouteActor, status: StatusSkipped})
	}
	if p.keyword == nil {
		out = append(out, outcome{route: RouteKeyword, status: StatusSkipped})
	}
	return out
}

// runRoute runs one route under the per-route timeout. A timed-out or failed
// route yields an empty outcome; it never returns an error.
func (e *Engine) runRoute(ctx context.Context, p *plan, task routeTask) outcome {
	rctx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	type scanned struct {
		res     *store.ScanResult
		matches map[string]Match
		err     error
	}
	ch := make(chan scanned, 1)
	go func() {
		res, matches, err := task.run(rctx)
		ch <- scanned{res, matches, err}
	}()

	var s scanned
	select {
	case <-rctx.Done():
		s.err = rctx.Err()
	case s = <-ch:
	}

	if s.err != nil {
		if stderrors.Is(rctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			e.logger.Info("search route timed out",
				zap.String("route", string(task.route)),
				zap.Duration("timeout", p.timeout),
			)
			return outcome{route: task.route, status: StatusTimeout}
		}
		e.logger.Warn("search route failed",
			zap.String("route", string(task.route)),
			zap.String("in_channel", p.in.String()),
			zap.Error(s.err),
		)
		return outcome{route: task.route, status: StatusFailed, err: s.err}
	}

	o := outcome{route: task.route, status: StatusOK, diags: s.res.Diagnostics}
	for _, r := range s.res.Records {
		h := hit{rec: r}
		if m, ok := s.matches[r.ID]; ok {
			h.match = &m
		}
		o.hits = append(o.hits, h)
	}
	if len(o.hits) == 0 {
		o.status = StatusEmpty
	}
	return o
}

// FirstMatch finds the first occurrence of re in r's detailed log, then in
// its compacted summary. Input and output lines are matched on their decoded
// text; batch lines on their JSON encoding.
func FirstMatch(re *regexp.Regexp, r *record.Record) (Match, bool) {
	texts := []string{r.Input, r.Output}
	lines, err := r.DetailLines()
	if err == nil {
		texts = append(texts, lines[2:]...)
	}
	for i, text := range texts {
		if loc := re.FindStringIndex(text); loc != nil {
			return Match{Line: i + 1, Source: "detailed", Excerpt: excerpt(text, loc)}, true
		}
	}
	for i, text := range r.Compacted {
		if loc := re.FindStringIndex(text); loc != nil {
			return Match{Line: i + 1, Source: "compacted", Excerpt: excerpt(text, loc)}, true
		}
	}
	return Match{}, false
}

// excerpt cuts a window of excerptRadius runes around loc and folds
// whitespace runs into single spaces.
func excerpt(text string, loc []int) string {
	start, end := loc[0], loc[1]
	for n := 0; n < excerptRadius && start > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	for n := 0; n < excerptRadius && end < len(text); n++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	out := strings.Join(strings.Fields(text[start:end]), " ")
	if start > 0 {
		out = "..." + out
	}
	if end < len(text) {
		out += "..."
	}
	return out
}
