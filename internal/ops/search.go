package ops

import (
	"context"
	"time"

	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/search"
)

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	InChannel     string // required
	ActorID       string // optional; enables the actor route
	Keyword       string // optional regular expression; enables the keyword route
	PerRouteLimit int    // default: config per_route_limit, max: 100
	Output        string // optional, default: <base>/exports/search-<channel>-<timestamp>.tsv
}

// Search runs the multi-route search and publishes the TSV output.
func Search(ctx context.Context, env *Env, input SearchInput) (*search.Summary, error) {
	in, err := channel.Parse(input.InChannel)
	if err != nil {
		return nil, err
	}

	exportsDir := env.ExportsDir()
	output := input.Output
	if output == "" {
		output = defaultOutputPath(exportsDir, "search", in.String(), ExtTSV, env)
	}
	if err := ValidateOutputPath(output, ExtTSV, exportsDir, env.Config); err != nil {
		return nil, err
	}
	if err := ensureExportsDir(output, exportsDir); err != nil {
		return nil, err
	}

	limit := input.PerRouteLimit
	if limit == 0 {
		limit = env.Config.PerRouteLimit
	}

	engine := search.New(env.Store, env.logger())
	return engine.Run(ctx, search.Request{
		InChannel:     in.String(),
		ActorID:       input.ActorID,
		Keyword:       input.Keyword,
		PerRouteLimit: limit,
		Output:        output,
		RouteTimeout:  time.Duration(env.Config.RouteTimeoutMS) * time.Millisecond,
	})
}

// Preview runs the same routes as Search but writes no file. Output is ignored.
func Preview(ctx context.Context, env *Env, input SearchInput) (*search.Summary, error) {
	limit := input.PerRouteLimit
	if limit == 0 {
		limit = env.Config.PerRouteLimit
	}

	engine := search.New(env.Store, env.logger())
	return engine.Collect(ctx, search.Request{
		InChannel:     input.InChannel,
		ActorID:       input.ActorID,
		Keyword:       input.Keyword,
		PerRouteLimit: limit,
		RouteTimeout:  time.Duration(env.Config.RouteTimeoutMS) * time.Millisecond,
	})
}
