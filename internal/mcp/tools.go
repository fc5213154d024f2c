package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var recallToolDef = mcp.NewTool("nous_recall",
	mcp.WithDescription("Retrieve the most recent consolidated learnings and knowledge entries, newest first."),
	mcp.WithString("lens",
		mcp.Description("Filter by lens: learnings or knowledge"),
		mcp.Enum("learnings", "knowledge"),
	),
	mcp.WithString("project",
		mcp.Description("Filter by project directory; also refreshes the index from that project's stores"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum entries to return (default 20, max 100)"),
	),
)

var searchToolDef = mcp.NewTool("nous_search",
	mcp.WithDescription("Search consolidated entries by substring over content, context, and category."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Substring to search for (case-insensitive)"),
	),
	mcp.WithString("lens",
		mcp.Description("Filter by lens: learnings or knowledge"),
		mcp.Enum("learnings", "knowledge"),
	),
	mcp.WithString("project",
		mcp.Description("Filter by project directory; also refreshes the index from that project's stores"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum entries to return (default 20, max 100)"),
	),
)

var inventoryToolDef = mcp.NewTool("nous_inventory",
	mcp.WithDescription("Summarize indexed entries per project and lens."),
)
