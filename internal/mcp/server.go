package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ugoodapp/ugood/internal/audio"
	"github.com/ugoodapp/ugood/internal/auth"
	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/metrics"
	"github.com/ugoodapp/ugood/internal/store"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"trouble_share": {
		def:     shareToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleShare },
	},
	"trouble_edit": {
		def:     editToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleEdit },
	},
	"trouble_history": {
		def:     historyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistory },
	},
	"match_find": {
		def:     findMatchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFindMatch },
	},
	"match_current": {
		def:     currentMatchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCurrentMatch },
	},
	"match_incoming": {
		def:     incomingToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIncoming },
	},
	"blessing_record": {
		def:     blessToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBless },
	},
	"blessing_inbox": {
		def:     blessingInboxToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBlessingInbox },
	},
	"blessing_audio_url": {
		def:     blessingAudioToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBlessingAudio },
	},
	"match_rollover": {
		def:     rolloverToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRollover },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with UGood tools registered.
// Tools listed in cfg.MCP.DisabledTools are excluded from registration.
func NewServer(h *Handlers, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"ugood",
		version,
		server.WithToolCapabilities(true),
	)

	disabled := make(map[string]bool)
	for _, name := range h.cfg.MCP.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport. A nil presigner leaves
// blessing playback unavailable.
func Run(st store.Store, cfg *config.Config, identity auth.Identity, rec metrics.Recorder, presigner *audio.Presigner, version string) error {
	s := NewServer(NewHandlers(st, cfg, identity, rec).WithAudio(presigner), version)
	return server.ServeStdio(s)
}
