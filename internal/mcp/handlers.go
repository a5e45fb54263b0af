package mcp

import (
	"context"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ugoodapp/ugood/internal/audio"
	"github.com/ugoodapp/ugood/internal/auth"
	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/errors"
	"github.com/ugoodapp/ugood/internal/metrics"
	"github.com/ugoodapp/ugood/internal/ops"
	"github.com/ugoodapp/ugood/internal/store"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	store    store.Store
	cfg      *config.Config
	identity auth.Identity
	metrics  metrics.Recorder
	audio    *audio.Presigner
}

// NewHandlers creates a new Handlers instance. A nil identity requires every
// call to pass user_id; a nil recorder disables metrics.
func NewHandlers(st store.Store, cfg *config.Config, identity auth.Identity, rec metrics.Recorder) *Handlers {
	if identity == nil {
		identity = auth.ContextIdentity{}
	}
	if rec == nil {
		rec = metrics.New(config.MetricsConfig{})
	}
	return &Handlers{store: st, cfg: cfg, identity: identity, metrics: rec}
}

// WithAudio sets the presigner used for blessing playback URLs. Without one
// blessing_audio_url reports UNAVAILABLE.
func (h *Handlers) WithAudio(p *audio.Presigner) *Handlers {
	h.audio = p
	return h
}

// Request types for each tool

// UserRequest carries only the acting user.
type UserRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// PageRequest represents the arguments for the list tools.
type PageRequest struct {
	UserID string `json:"user_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ShareRequest represents the arguments for trouble_share.
type ShareRequest struct {
	UserID  string `json:"user_id,omitempty"`
	Content string `json:"content"`
}

// EditRequest represents the arguments for trouble_edit.
type EditRequest struct {
	UserID    string `json:"user_id,omitempty"`
	TroubleID string `json:"trouble_id"`
	Content   string `json:"content"`
}

// BlessRequest represents the arguments for blessing_record.
type BlessRequest struct {
	UserID      string  `json:"user_id,omitempty"`
	MatchID     string  `json:"match_id"`
	AudioRef    string  `json:"audio_ref"`
	TextContent *string `json:"text_content,omitempty"`
}

// BlessingAudioRequest represents the arguments for blessing_audio_url.
type BlessingAudioRequest struct {
	UserID     string `json:"user_id,omitempty"`
	BlessingID string `json:"blessing_id"`
}

// resolveUser returns the acting user. When the server runs as a fixed
// identity, an explicit user_id must name that same user; only a server
// started without one accepts user_id as the identity.
func (h *Handlers) resolveUser(ctx context.Context, explicit string) (string, error) {
	explicit = strings.TrimSpace(explicit)
	configured, err := h.identity.UserID(ctx)
	if err == nil {
		if explicit != "" && explicit != configured {
			return "", errors.NewUnauthorized("user_id does not match the server identity")
		}
		return configured, nil
	}
	if explicit == "" {
		return "", err
	}
	return explicit, nil
}

// Handler implementations

// HandleShare handles the trouble_share tool call.
func (h *Handlers) HandleShare(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ShareRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := h.resolveUser(ctx, input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ShareTrouble(ctx, h.store, h.cfg, ops.ShareTroubleInput{
		AuthorID: userID,
		Content:  input.Content,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleEdit handles the trouble_edit tool call.
func (h *Handlers) HandleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[EditRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := h.resolveUser(ctx, input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.EditTrouble(ctx, h.store, h.cfg, ops.EditTroubleInput{
		TroubleID: input.TroubleID,
		AuthorID:  userID,
		Content:   input.Content,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHistory handles the trouble_history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PageRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := h.resolveUser(ctx, input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.TroubleHistory(ctx, h.store, h.cfg, ops.TroubleHistoryInput{
		AuthorID: userID,
		Limit:    input.Limit,
		Offset:   input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFindMatch handles the match_find tool call.
func (h *Handlers) HandleFindMatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UserRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := h.resolveUser(ctx, input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.FindMatch(ctx, h.store, h.cfg, ops.FindMatchInput{UserID: userID})
	if err != nil {
		h.metrics.IncMatchOutcome(metrics.OutcomeError)
		return errorResult(err), nil
	}
	h.metrics.IncMatchOutcome(metrics.MatchOutcome(result.Created, result.NoMatch))

	return successResult(result)
}

// HandleCurrentMatch handles the match_current tool call.
func (h *Handlers) HandleCurrentMatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UserRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := h.resolveUser(ctx, input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.CurrentMatch(ctx, h.store, h.cfg, ops.CurrentMatchInput{UserID: userID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleIncoming handles the match_incoming tool call.
func (h *Handlers) HandleIncoming(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PageRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := h.resolveUser(ctx, input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.MatchInbox(ctx, h.store, h.cfg, ops.MatchInboxInput{
		AuthorID: userID,
		Limit:    input.Limit,
		Offset:   input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleBless handles the blessing_record tool call.
func (h *Handlers) HandleBless(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BlessRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := h.resolveUser(ctx, input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.RecordBlessing(ctx, h.store, h.cfg, ops.RecordBlessingInput{
		MatchID:     input.MatchID,
		FromUserID:  userID,
		AudioRef:    input.AudioRef,
		TextContent: input.TextContent,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleBlessingInbox handles the blessing_inbox tool call.
func (h *Handlers) HandleBlessingInbox(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PageRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := h.resolveUser(ctx, input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.BlessingInbox(ctx, h.store, h.cfg, ops.BlessingInboxInput{
		UserID: userID,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleBlessingAudio handles the blessing_audio_url tool call.
func (h *Handlers) HandleBlessingAudio(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BlessingAudioRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	userID, err := h.resolveUser(ctx, input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.BlessingAudio(ctx, h.store, h.cfg, h.audio, ops.BlessingAudioInput{
		BlessingID: input.BlessingID,
		UserID:     userID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRollover handles the match_rollover tool call.
func (h *Handlers) HandleRollover(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Rollover(ctx, h.store, h.cfg)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// INTERNAL errors carry neither their message nor details.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if uErr, ok := errors.As(err); ok && uErr.Code != errors.ErrInternal {
		// Keep wrapper context such as "items[2]: ..." when present
		message := uErr.Message
		if err != error(uErr) {
			message = err.Error()
		}
		errorObj := map[string]any{
			"code":    uErr.Code,
			"message": message,
			"status":  uErr.Status,
		}
		if uErr.Details != nil {
			errorObj["details"] = uErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
