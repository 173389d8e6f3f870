package mcp

import "github.com/mark3labs/mcp-go/mcp"

var stringItems = map[string]any{"type": "string"}

var appendToolDef = mcp.NewTool("memory_append",
	mcp.WithDescription("Store a completed exchange as an immutable memory record. Returns the assigned id."),
	mcp.WithString("in_channel", mcp.Required(), mcp.Description("Channel the input arrived on, e.g. telegram/chat/42")),
	mcp.WithString("out_channel", mcp.Description("Channel the reply went to; defaults to in_channel")),
	mcp.WithString("actor_id", mcp.Description("Sender id")),
	mcp.WithString("id", mcp.Description("Explicit record id (8 chars); generated when omitted")),
	mcp.WithString("created_at", mcp.Description("RFC 3339 time; must match the id's millisecond when both are given")),
	mcp.WithArray("parents", mcp.Items(stringItems), mcp.Description("Ids of older records this one follows")),
	mcp.WithArray("children", mcp.Items(stringItems), mcp.Description("Ids of related later records")),
	mcp.WithString("input", mcp.Description("Raw input text")),
	mcp.WithString("output", mcp.Description("Final output text")),
	mcp.WithArray("detailed", mcp.Items(map[string]any{"type": "array"}), mcp.Description("Intermediate message batches, one JSON array each")),
	mcp.WithArray("compacted", mcp.Items(stringItems), mcp.Description("Initial summary lines")),
)

var fetchToolDef = mcp.NewTool("memory_fetch",
	mcp.WithDescription("Fetch one memory record by id."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
	mcp.WithBoolean("include_detail", mcp.Description("Include input, output and detailed batches (default true)")),
)

var scanToolDef = mcp.NewTool("memory_scan",
	mcp.WithDescription("List the most recent records at or below a channel, oldest first."),
	mcp.WithString("channel", mcp.Required(), mcp.Description("Channel prefix (segment-exact)")),
	mcp.WithNumber("limit", mcp.Description("Max records (default 20, max 100)")),
)

var searchToolDef = mcp.NewTool("memory_search",
	mcp.WithDescription("Run the channel, actor and keyword routes in parallel, merge the hits and write a TSV file. The output path must not exist."),
	mcp.WithString("in_channel", mcp.Required(), mcp.Description("Channel of the current event")),
	mcp.WithString("actor_id", mcp.Description("Sender id; enables the actor route across the platform")),
	mcp.WithString("keyword", mcp.Description("Regular expression over detailed and compacted lines; enables the keyword route")),
	mcp.WithNumber("per_route_limit", mcp.Description("Records kept per route (default from config, max 100)")),
	mcp.WithString("output", mcp.Description("Destination .tsv path; default under <base>/exports")),
)

var neighborhoodToolDef = mcp.NewTool("memory_neighborhood",
	mcp.WithDescription("Walk parent and child links breadth-first from a record."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Start record id")),
	mcp.WithNumber("depth", mcp.Description("Levels to walk (default 3, max 10)")),
)

var exportToolDef = mcp.NewTool("memory_export",
	mcp.WithDescription("Export records to a JSONL file."),
	mcp.WithString("channel", mcp.Description("Only records at or below this channel")),
	mcp.WithString("path", mcp.Description("Destination .jsonl path; default under <base>/exports")),
)

var compactToolDef = mcp.NewTool("memory_compact",
	mcp.WithDescription("Append summary lines to a record's compacted list."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
	mcp.WithArray("lines", mcp.Required(), mcp.Items(stringItems), mcp.Description("Summary lines to append")),
)

var preferencesToolDef = mcp.NewTool("preferences_resolve",
	mcp.WithDescription("Resolve the preference documents for a channel and actor, most general first."),
	mcp.WithString("in_channel", mcp.Required(), mcp.Description("Channel of the current event")),
	mcp.WithString("actor_id", mcp.Description("Sender id for the per-user document")),
)

var skillsRouteToolDef = mcp.NewTool("skills_route",
	mcp.WithDescription("Resolve the context and messager skills for an event."),
	mcp.WithString("in_channel", mcp.Required(), mcp.Description("Channel of the current event")),
	mcp.WithString("out_channel", mcp.Description("Reply channel; defaults to in_channel")),
)
