package mcp

import "github.com/mark3labs/mcp-go/mcp"

func userIDParam() mcp.ToolOption {
	return mcp.WithString("user_id",
		mcp.Description("Acting user. Defaults to the identity the server was started with, and must match it when one is set."),
	)
}

func pagingParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
		mcp.WithNumber("offset", mcp.Description("Items to skip (default 0)")),
	}
}

func withAll(opts ...[]mcp.ToolOption) []mcp.ToolOption {
	var out []mcp.ToolOption
	for _, o := range opts {
		out = append(out, o...)
	}
	return out
}

var shareToolDef = mcp.NewTool("trouble_share",
	mcp.WithDescription("Share a trouble. Replaces the user's waiting trouble if one exists."),
	userIDParam(),
	mcp.WithString("content", mcp.Required(), mcp.Description("What is weighing on you (max 300 characters)")),
)

var editToolDef = mcp.NewTool("trouble_edit",
	mcp.WithDescription("Edit the text of one of your troubles that is still waiting for a match."),
	userIDParam(),
	mcp.WithString("trouble_id", mcp.Required(), mcp.Description("Trouble id")),
	mcp.WithString("content", mcp.Required(), mcp.Description("New text (max 300 characters)")),
)

var historyToolDef = mcp.NewTool("trouble_history", withAll(
	[]mcp.ToolOption{
		mcp.WithDescription("List the user's troubles, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		userIDParam(),
	},
	pagingParams(),
)...)

var findMatchToolDef = mcp.NewTool("match_find",
	mcp.WithDescription("Get today's match for the user, pairing them with the oldest waiting trouble if they have none yet. "+
		"Returns no_match when nobody is waiting."),
	userIDParam(),
)

var currentMatchToolDef = mcp.NewTool("match_current",
	mcp.WithDescription("Show the user's latest active match and its trouble, if any."),
	mcp.WithReadOnlyHintAnnotation(true),
	userIDParam(),
)

var incomingToolDef = mcp.NewTool("match_incoming", withAll(
	[]mcp.ToolOption{
		mcp.WithDescription("List matches made against the user's troubles, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		userIDParam(),
	},
	pagingParams(),
)...)

var blessToolDef = mcp.NewTool("blessing_record",
	mcp.WithDescription("Send a blessing for an active match. Completes the match."),
	userIDParam(),
	mcp.WithString("match_id", mcp.Required(), mcp.Description("Match id")),
	mcp.WithString("audio_ref", mcp.Required(), mcp.Description("Storage key or URL of the recording")),
	mcp.WithString("text_content", mcp.Description("Optional caption (max 300 characters)")),
)

var blessingInboxToolDef = mcp.NewTool("blessing_inbox", withAll(
	[]mcp.ToolOption{
		mcp.WithDescription("List blessings the user has received, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		userIDParam(),
	},
	pagingParams(),
)...)

var blessingAudioToolDef = mcp.NewTool("blessing_audio_url",
	mcp.WithDescription("Get a short-lived playback URL for a blessing's recording. Only the sender or the recipient may ask."),
	mcp.WithReadOnlyHintAnnotation(true),
	userIDParam(),
	mcp.WithString("blessing_id", mcp.Required(), mcp.Description("Blessing id")),
)

var rolloverToolDef = mcp.NewTool("match_rollover",
	mcp.WithDescription("Expire active matches from earlier cycle days. Normally run by the scheduler."),
	mcp.WithDestructiveHintAnnotation(true),
)
