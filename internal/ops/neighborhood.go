package ops

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/record"
	"github.com/hpungsan/kapy/internal/store"
)

// NeighborhoodInput contains parameters for the Neighborhood operation.
type NeighborhoodInput struct {
	ID    string // required
	Depth int    // default: 3, max: 10
}

// Neighbor is one record reached from the start record.
type Neighbor struct {
	record.Core
	Distance int `json:"distance"`
}

// NeighborhoodOutput contains the records within Depth links of ID.
type NeighborhoodOutput struct {
	ID          string             `json:"id"`
	Depth       int                `json:"depth"`
	Records     []Neighbor         `json:"records"`
	Diagnostics []store.Diagnostic `json:"diagnostics,omitempty"`
}

// Neighborhood walks parent and child links breadth-first up to Depth levels.
// Children are the stored children plus every record naming a visited record
// as parent. Results are sorted by id and include the start record at
// distance 0.
func Neighborhood(ctx context.Context, env *Env, input NeighborhoodInput) (*NeighborhoodOutput, error) {
	id := strings.TrimSpace(input.ID)
	if !record.IsValidID(id) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid record id: %q", input.ID))
	}
	depth := input.Depth
	if depth == 0 {
		depth = DefaultNeighborhoodDepth
	}
	if depth < 0 || depth > MaxNeighborhoodDepth {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("depth must be between 1 and %d", MaxNeighborhoodDepth))
	}

	start, err := env.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	children, diags, err := childIndex(ctx, env.Store)
	if err != nil {
		return nil, err
	}

	visited := map[string]int{start.ID: 0}
	found := map[string]*record.Record{start.ID: start}
	frontier := []*record.Record{start}

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		var next []*record.Record
		for _, r := range frontier {
			for _, nid := range links(r, children[r.ID]) {
				if _, seen := visited[nid]; seen {
					continue
				}
				visited[nid] = level
				n, err := env.Store.Get(ctx, nid)
				if err != nil {
					if errors.Is(err, errors.ErrNotFound) {
						env.logger().Debug("dangling link skipped", zap.String("from", r.ID), zap.String("id", nid))
						continue
					}
					return nil, err
				}
				found[nid] = n
				next = append(next, n)
			}
		}
		frontier = next
	}

	out := &NeighborhoodOutput{ID: start.ID, Depth: depth, Diagnostics: diags}
	for nid, r := range found {
		out.Records = append(out.Records, Neighbor{Core: r.Core(), Distance: visited[nid]})
	}
	slices.SortFunc(out.Records, func(a, b Neighbor) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// childIndex maps each parent id to the records naming it.
func childIndex(ctx context.Context, s store.Store) (map[string][]string, []store.Diagnostic, error) {
	hasParents := func(r *record.Record) bool { return len(r.Parents) > 0 }
	res, err := s.ScanByPredicate(ctx, hasParents, channel.Channel{}, 0)
	if err != nil {
		return nil, nil, err
	}
	idx := make(map[string][]string)
	for _, r := range res.Records {
		for _, p := range r.Parents {
			idx[p] = append(idx[p], r.ID)
		}
	}
	return idx, res.Diagnostics, nil
}

// links returns r's parents, stored children and reverse children, deduplicated.
func links(r *record.Record, reverse []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, group := range [][]string{r.Parents, r.Children, reverse} {
		for _, id := range group {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
