package search

import (
	"bufio"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/fsutil"
)

// Header is the column header line of search output.
const Header = "# id\troutes\tcore_json\tmatched_detailed_lines"

// WriteTSV renders sum as the search output format: a comment preamble, the
// header line, then one row per result.
func WriteTSV(w io.Writer, sum *Summary) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# in_channel: %s\n", sum.InChannel)
	fmt.Fprintf(bw, "# routes: %s\n", formatRoutes(sum.Routes))
	fmt.Fprintf(bw, "# diagnostics: %d\n", len(sum.Diagnostics))
	fmt.Fprintln(bw, Header)

	for _, r := range sum.Results {
		routes := make([]string, len(r.Routes))
		for i, rt := range r.Routes {
			routes[i] = string(rt)
		}
		matches := r.Matches
		if matches == nil {
			matches = []Match{}
		}
		m, err := json.Marshal(matches)
		if err != nil {
			return err
		}
		fmt.Fprintf(bw, "%s\t%s\t%s\t%s\n", r.ID, strings.Join(routes, ","), r.Metadata, m)
	}
	return bw.Flush()
}

// formatRoutes renders "channel=ok:3 actor=skipped:0 keyword=timeout:0".
func formatRoutes(st []RouteStatus) string {
	parts := make([]string, len(st))
	for i, s := range st {
		parts[i] = fmt.Sprintf("%s=%s:%d", s.Route, s.Status, s.Count)
	}
	return strings.Join(parts, " ")
}

// writeOutput publishes sum at path. An existing path is never replaced.
func writeOutput(path string, sum *Summary) error {
	err := fsutil.WriteExclusive(path, 0600, func(w io.Writer) error {
		return WriteTSV(w, sum)
	})
	if err != nil {
		if stderrors.Is(err, fsutil.ErrExists) {
			return errors.NewDestinationConflict(path)
		}
		return errors.NewInternal(err)
	}
	return nil
}
