package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/ops"
	"github.com/hpungsan/kapy/internal/web"
)

// maxStdinBytes bounds what append and compact read from stdin.
const maxStdinBytes = 16 << 20

// newCLIApp creates the CLI application with all commands. env may be nil
// for --help and --version.
func newCLIApp(env *ops.Env) *cli.App {
	app := &cli.App{
		Name:    "kapy",
		Usage:   "Channel-scoped conversational memory",
		Version: Version,
		Commands: []*cli.Command{
			appendCmd(env),
			fetchCmd(env),
			scanCmd(env),
			searchCmd(env),
			neighborhoodCmd(env),
			compactCmd(env),
			exportCmd(env),
			prefsCmd(env),
			skillsCmd(env),
			serveCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// appendCmd creates the append command.
func appendCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "append",
		Usage: "Append a record (reads a JSON record from stdin when piped; flags override)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Usage: "Inbound channel, e.g. telegram/chat/42"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Outbound channel (defaults to --in)"},
			&cli.StringFlag{Name: "actor", Aliases: []string{"a"}, Usage: "Actor id"},
			&cli.StringFlag{Name: "id", Usage: "Record id (generated when empty)"},
			&cli.StringSliceFlag{Name: "parent", Usage: "Parent record id (repeatable)"},
			&cli.StringSliceFlag{Name: "child", Usage: "Child record id (repeatable)"},
			&cli.StringFlag{Name: "input", Usage: "Inbound message text"},
			&cli.StringFlag{Name: "output", Usage: "Reply text"},
		},
		Action: func(c *cli.Context) error {
			var input ops.AppendInput
			if stdinHasData(c.App.Reader) {
				data, err := readStdinWithLimit(c.App.Reader, maxStdinBytes)
				if err != nil {
					return outputError(err)
				}
				if data != "" {
					if err := json.Unmarshal([]byte(data), &input); err != nil {
						return outputError(errors.NewInvalidRequest(fmt.Sprintf("invalid record JSON on stdin: %v", err)))
					}
				}
			}

			setIfSet(c, "in", &input.InChannel)
			setIfSet(c, "out", &input.OutChannel)
			setIfSet(c, "actor", &input.ActorID)
			setIfSet(c, "id", &input.ID)
			setIfSet(c, "input", &input.Input)
			setIfSet(c, "output", &input.Output)
			if c.IsSet("parent") {
				input.Parents = c.StringSlice("parent")
			}
			if c.IsSet("child") {
				input.Children = c.StringSlice("child")
			}

			output, err := ops.Append(c.Context, env, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch a record by id",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-detail", Usage: "Exclude the detailed log"},
		},
		Action: func(c *cli.Context) error {
			input := ops.FetchInput{ID: c.Args().First()}
			if c.Bool("no-detail") {
				includeDetail := false
				input.IncludeDetail = &includeDetail
			}

			output, err := ops.Fetch(c.Context, env, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// scanCmd creates the scan command.
func scanCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "List the most recent records at or below a channel",
		ArgsUsage: "<channel>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultScanLimit, Usage: "Maximum records to return"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Scan(c.Context, env, ops.ScanInput{
				Channel: c.Args().First(),
				Limit:   c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search by channel, actor and keyword and write a TSV file",
		ArgsUsage: "<in_channel>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "actor", Aliases: []string{"a"}, Usage: "Actor id (enables the actor route)"},
			&cli.StringFlag{Name: "keyword", Aliases: []string{"k"}, Usage: "Regular expression (enables the keyword route)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Records kept per route (default: config per_route_limit)"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output path (default: <base>/exports/search-<channel>-<timestamp>.tsv)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Search(c.Context, env, ops.SearchInput{
				InChannel:     c.Args().First(),
				ActorID:       c.String("actor"),
				Keyword:       c.String("keyword"),
				PerRouteLimit: c.Int("limit"),
				Output:        c.String("output"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// neighborhoodCmd creates the neighborhood command.
func neighborhoodCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "neighborhood",
		Usage:     "List records linked to a record by parent and child links",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "depth", Aliases: []string{"d"}, Value: ops.DefaultNeighborhoodDepth, Usage: "Maximum link distance"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Neighborhood(c.Context, env, ops.NeighborhoodInput{
				ID:    c.Args().First(),
				Depth: c.Int("depth"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// compactCmd creates the compact command.
func compactCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "compact",
		Usage:     "Append summary lines to a record (--line or one line per stdin line)",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "line", Usage: "Summary line (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			lines := c.StringSlice("line")
			if len(lines) == 0 && stdinHasData(c.App.Reader) {
				var err error
				if lines, err = readLines(c.App.Reader); err != nil {
					return outputError(err)
				}
			}

			output, err := ops.AppendCompacted(c.Context, env, ops.AppendCompactedInput{
				ID:    c.Args().First(),
				Lines: lines,
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export records to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: <base>/exports/export-<channel>-<timestamp>.jsonl)"},
			&cli.StringFlag{Name: "channel", Aliases: []string{"c"}, Usage: "Only records at or below this channel"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, env, ops.ExportInput{
				Path:    c.String("path"),
				Channel: c.String("channel"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// prefsCmd creates the prefs command.
func prefsCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "prefs",
		Usage:     "Resolve the preference documents for a channel",
		ArgsUsage: "<in_channel>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "actor", Aliases: []string{"a"}, Usage: "Actor id (adds the per-user document)"},
			&cli.BoolFlag{Name: "prompt", Usage: "Print only the rendered <Preferences> block"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Preferences(env, ops.PreferencesInput{
				InChannel: c.Args().First(),
				ActorID:   c.String("actor"),
			})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("prompt") {
				_, err := fmt.Fprintln(c.App.Writer, output.Prompt)
				return err
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// skillsCmd creates the skills command.
func skillsCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "skills",
		Usage:     "Resolve the context and messager skills for an event",
		ArgsUsage: "<in_channel>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Outbound channel (defaults to in_channel)"},
			&cli.BoolFlag{Name: "prompt", Usage: "Print only the rendered skill bodies"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.RouteSkills(env, ops.RouteSkillsInput{
				InChannel:  c.Args().First(),
				OutChannel: c.String("out"),
			})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("prompt") {
				_, err := fmt.Fprintln(c.App.Writer, output.Prompt)
				return err
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the read-only web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Aliases: []string{"b"}, Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8484, Usage: "Port"},
		},
		Action: func(c *cli.Context) error {
			srv, err := web.NewServer(env, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return web.Run(c.Context, srv, env.Logger)
		},
	}
}

// Helper functions

// outputJSON writes v to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats err as "[CODE] message" with exit status 1.
func outputError(err error) error {
	if kErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", kErr.Code, kErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// setIfSet copies a string flag into dst when it was given.
func setIfSet(c *cli.Context, name string, dst *string) {
	if c.IsSet(name) {
		*dst = c.String(name)
	}
}

// stdinHasData returns true if r is piped data rather than a terminal.
// Readers other than *os.File always count as piped.
func stdinHasData(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return r != nil
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdinWithLimit reads r up to limit bytes. Larger input is an error.
func readStdinWithLimit(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}
	return strings.TrimSpace(string(data)), nil
}

// readLines returns the non-blank lines of r.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(io.LimitReader(r, maxStdinBytes))
	sc.Buffer(make([]byte, 64*1024), maxStdinBytes)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("reading stdin: %v", err))
	}
	return lines, nil
}
