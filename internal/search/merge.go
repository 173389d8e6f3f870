package search

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/store"
)

// Merge unions route outcomes by record id. Route labels follow RouteOrder,
// the keyword match is kept, and results are ascending by id. The result
// does not depend on the order of outs.
func Merge(outs []outcome) ([]Result, error) {
	byRoute := make(map[Route][]outcome, len(RouteOrder))
	for _, o := range outs {
		byRoute[o.route] = append(byRoute[o.route], o)
	}

	merged := make(map[string]*Result)
	for _, route := range RouteOrder {
		for _, o := range byRoute[route] {
			for _, h := range o.hits {
				res, ok := merged[h.rec.ID]
				if !ok {
					meta, err := h.rec.CoreJSON()
					if err != nil {
						return nil, errors.NewCorruptRecord(h.rec.ID, err)
					}
					res = &Result{
						ID:       h.rec.ID,
						Metadata: json.RawMessage(meta),
						Matches:  []Match{},
					}
					merged[h.rec.ID] = res
				}
				if !slices.Contains(res.Routes, route) {
					res.Routes = append(res.Routes, route)
				}
				if h.match != nil && len(res.Matches) == 0 {
					res.Matches = append(res.Matches, *h.match)
				}
			}
		}
	}

	results := make([]Result, 0, len(merged))
	for _, r := range merged {
		results = append(results, *r)
	}
	slices.SortFunc(results, func(a, b Result) int {
		return strings.Compare(a.ID, b.ID)
	})
	return results, nil
}

// statuses returns one status per route in RouteOrder.
func statuses(outs []outcome) []RouteStatus {
	st := make([]RouteStatus, 0, len(RouteOrder))
	for _, route := range RouteOrder {
		rs := RouteStatus{Route: route, Status: StatusSkipped}
		for _, o := range outs {
			if o.route != route {
				continue
			}
			rs.Status = o.status
			rs.Count = len(o.hits)
			if o.err != nil {
				rs.Error = o.err.Error()
			}
		}
		st = append(st, rs)
	}
	return st
}

// diagnostics unions the scan diagnostics of all routes.
func diagnostics(outs []outcome) []store.Diagnostic {
	seen := make(map[store.Diagnostic]bool)
	var diags []store.Diagnostic
	for _, route := range RouteOrder {
		for _, o := range outs {
			if o.route != route {
				continue
			}
			for _, d := range o.diags {
				if seen[d] {
					continue
				}
				seen[d] = true
				diags = append(diags, d)
			}
		}
	}
	return diags
}
