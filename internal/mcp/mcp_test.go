package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ugoodapp/ugood/internal/audio"
	"github.com/ugoodapp/ugood/internal/auth"
	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/db"
	"github.com/ugoodapp/ugood/internal/errors"
	"github.com/ugoodapp/ugood/internal/metrics"
	"github.com/ugoodapp/ugood/internal/store"
)

// testSetup creates a temporary store and config for testing.
func testSetup(t *testing.T) (store.Store, *config.Config) {
	t.Helper()

	cfg := config.DefaultConfig()
	st, err := db.Open(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return st, cfg
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleShare(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name:      "share valid trouble",
			args:      map[string]any{"user_id": "alice", "content": "rough day"},
			wantError: false,
		},
		{
			name:      "share without content",
			args:      map[string]any{"user_id": "alice"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "share too long",
			args:      map[string]any{"user_id": "alice", "content": strings.Repeat("a", 301)},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "share without user and no identity",
			args:      map[string]any{"content": "rough day"},
			wantError: true,
			errorCode: "UNAUTHENTICATED",
		},
		{
			name:      "share with wrong argument type",
			args:      map[string]any{"user_id": "alice", "content": 42},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleShare(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantError {
				if !result.IsError {
					t.Fatalf("expected error result, got %s", extractErrorMessage(result))
				}
				assertErrorCode(t, result, tt.errorCode)
				return
			}
			if result.IsError {
				t.Fatalf("unexpected error result: %s", extractErrorMessage(result))
			}
		})
	}
}

func TestHandleShare_StaticIdentity(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg, auth.NewStatic("alice"), nil)
	ctx := context.Background()

	result, _ := h.HandleShare(ctx, makeRequest(map[string]any{"content": "first"}))
	out := parseOutput(t, result)
	trouble := out["trouble"].(map[string]any)
	if trouble["author_id"] != "alice" {
		t.Errorf("author_id = %v, want alice", trouble["author_id"])
	}
	if out["replaced"] != false {
		t.Errorf("replaced = %v, want false", out["replaced"])
	}

	// A user_id naming someone else is refused
	result, _ = h.HandleShare(ctx, makeRequest(map[string]any{"user_id": "bob", "content": "second"}))
	assertErrorCode(t, result, "UNAUTHORIZED")

	result, _ = h.HandleShare(ctx, makeRequest(map[string]any{"user_id": " alice ", "content": "third"}))
	out = parseOutput(t, result)
	if out["replaced"] != true {
		t.Errorf("replaced = %v, want true", out["replaced"])
	}
	if got := out["trouble"].(map[string]any)["author_id"]; got != "alice" {
		t.Errorf("author_id = %v, want alice", got)
	}
}

func TestResolveUser(t *testing.T) {
	st, cfg := testSetup(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		identity auth.Identity
		explicit string
		want     string
		code     string
	}{
		{name: "static identity", identity: auth.NewStatic("alice"), want: "alice"},
		{name: "matching user_id", identity: auth.NewStatic("alice"), explicit: "alice", want: "alice"},
		{name: "mismatched user_id", identity: auth.NewStatic("alice"), explicit: "bob", code: "UNAUTHORIZED"},
		{name: "empty static takes user_id", identity: auth.NewStatic(""), explicit: "bob", want: "bob"},
		{name: "no identity takes user_id", explicit: "carol", want: "carol"},
		{name: "no identity and no user_id", code: "UNAUTHENTICATED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(st, cfg, tt.identity, nil)
			got, err := h.resolveUser(ctx, tt.explicit)
			if tt.code != "" {
				if !errors.Is(err, errors.ErrorCode(tt.code)) {
					t.Fatalf("resolveUser() error = %v, want %s", err, tt.code)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveUser() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("resolveUser() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandleEdit(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg, nil, nil)
	ctx := context.Background()

	result, _ := h.HandleShare(ctx, makeRequest(map[string]any{"user_id": "alice", "content": "rough day"}))
	id := parseOutput(t, result)["trouble"].(map[string]any)["id"].(string)

	result, _ = h.HandleEdit(ctx, makeRequest(map[string]any{"user_id": "bob", "trouble_id": id, "content": "x"}))
	assertErrorCode(t, result, "UNAUTHORIZED")

	result, _ = h.HandleEdit(ctx, makeRequest(map[string]any{"user_id": "alice", "trouble_id": id, "content": "rough week"}))
	out := parseOutput(t, result)
	if got := out["trouble"].(map[string]any)["content"]; got != "rough week" {
		t.Errorf("content = %v, want rough week", got)
	}

	result, _ = h.HandleEdit(ctx, makeRequest(map[string]any{"user_id": "alice", "content": "x"}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleHistory(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg, nil, nil)
	ctx := context.Background()

	h.HandleShare(ctx, makeRequest(map[string]any{"user_id": "alice", "content": "one"}))

	result, _ := h.HandleHistory(ctx, makeRequest(map[string]any{"user_id": "alice", "limit": 5}))
	out := parseOutput(t, result)
	items := out["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	page := out["pagination"].(map[string]any)
	if page["limit"] != float64(5) {
		t.Errorf("limit = %v, want 5", page["limit"])
	}
}

func TestMatchAndBlessingTools(t *testing.T) {
	st, cfg := testSetup(t)
	rec := metrics.New(config.MetricsConfig{Enabled: true})
	h := NewHandlers(st, cfg, nil, rec)
	ctx := context.Background()

	h.HandleShare(ctx, makeRequest(map[string]any{"user_id": "alice", "content": "lonely tonight"}))

	result, _ := h.HandleFindMatch(ctx, makeRequest(map[string]any{"user_id": "bob"}))
	out := parseOutput(t, result)
	if out["created"] != true {
		t.Fatalf("created = %v, want true", out["created"])
	}
	match := out["match"].(map[string]any)
	matchID := match["id"].(string)
	if got := out["trouble"].(map[string]any)["content"]; got != "lonely tonight" {
		t.Errorf("trouble content = %v", got)
	}

	result, _ = h.HandleFindMatch(ctx, makeRequest(map[string]any{"user_id": "carol"}))
	out = parseOutput(t, result)
	if out["no_match"] != true {
		t.Errorf("carol no_match = %v, want true", out["no_match"])
	}

	result, _ = h.HandleCurrentMatch(ctx, makeRequest(map[string]any{"user_id": "bob"}))
	out = parseOutput(t, result)
	if got := out["match"].(map[string]any)["id"]; got != matchID {
		t.Errorf("current match = %v, want %s", got, matchID)
	}

	result, _ = h.HandleIncoming(ctx, makeRequest(map[string]any{"user_id": "alice"}))
	out = parseOutput(t, result)
	if n := len(out["items"].([]any)); n != 1 {
		t.Errorf("incoming = %d, want 1", n)
	}

	result, _ = h.HandleBless(ctx, makeRequest(map[string]any{"user_id": "alice", "match_id": matchID, "audio_ref": "k"}))
	assertErrorCode(t, result, "UNAUTHORIZED")

	result, _ = h.HandleBless(ctx, makeRequest(map[string]any{
		"user_id":      "bob",
		"match_id":     matchID,
		"audio_ref":    "blessings/bob/01.m4a",
		"text_content": "hang in there",
	}))
	out = parseOutput(t, result)
	blessing := out["blessing"].(map[string]any)
	if blessing["to_user_id"] != "alice" {
		t.Errorf("to_user_id = %v, want alice", blessing["to_user_id"])
	}

	result, _ = h.HandleBless(ctx, makeRequest(map[string]any{"user_id": "bob", "match_id": matchID, "audio_ref": "again"}))
	assertErrorCode(t, result, "CONFLICT")

	result, _ = h.HandleBlessingInbox(ctx, makeRequest(map[string]any{"user_id": "alice"}))
	out = parseOutput(t, result)
	if n := len(out["items"].([]any)); n != 1 {
		t.Errorf("inbox = %d, want 1", n)
	}

	body := scrape(t, rec)
	for _, want := range []string{`outcome="created"} 1`, `outcome="no_match"} 1`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestHandleBlessingAudio(t *testing.T) {
	st, cfg := testSetup(t)
	client := s3.New(s3.Options{
		Region: "us-east-1",
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}, nil
		}),
	})
	h := NewHandlers(st, cfg, nil, nil).WithAudio(audio.NewWithClient(client, cfg.Audio))
	ctx := context.Background()

	h.HandleShare(ctx, makeRequest(map[string]any{"user_id": "alice", "content": "missing home"}))
	result, _ := h.HandleFindMatch(ctx, makeRequest(map[string]any{"user_id": "bob"}))
	matchID := parseOutput(t, result)["match"].(map[string]any)["id"].(string)
	result, _ = h.HandleBless(ctx, makeRequest(map[string]any{
		"user_id": "bob", "match_id": matchID, "audio_ref": "blessings/bob/02.m4a",
	}))
	blessingID := parseOutput(t, result)["blessing"].(map[string]any)["id"].(string)

	for _, user := range []string{"alice", "bob"} {
		result, _ = h.HandleBlessingAudio(ctx, makeRequest(map[string]any{"user_id": user, "blessing_id": blessingID}))
		out := parseOutput(t, result)
		u, _ := out["url"].(string)
		if !strings.Contains(u, "blessings/bob/02.m4a") || !strings.Contains(u, "X-Amz-Signature=") {
			t.Errorf("%s url = %q, want a signed GET for the recording", user, u)
		}
	}

	result, _ = h.HandleBlessingAudio(ctx, makeRequest(map[string]any{"user_id": "carol", "blessing_id": blessingID}))
	assertErrorCode(t, result, "UNAUTHORIZED")

	result, _ = h.HandleBlessingAudio(ctx, makeRequest(map[string]any{"user_id": "alice", "blessing_id": "nope"}))
	assertErrorCode(t, result, "NOT_FOUND")

	noAudio := NewHandlers(st, cfg, nil, nil)
	result, _ = noAudio.HandleBlessingAudio(ctx, makeRequest(map[string]any{"user_id": "alice", "blessing_id": blessingID}))
	assertErrorCode(t, result, "UNAVAILABLE")
}

func TestHandleRollover(t *testing.T) {
	st, cfg := testSetup(t)
	h := NewHandlers(st, cfg, nil, nil)

	result, err := h.HandleRollover(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := parseOutput(t, result)
	if out["expired"] != float64(0) {
		t.Errorf("expired = %v, want 0", out["expired"])
	}
	if _, ok := out["match_date"].(string); !ok {
		t.Errorf("match_date missing: %v", out)
	}
}

func TestServerRegistration(t *testing.T) {
	st, cfg := testSetup(t)

	s := NewServer(NewHandlers(st, cfg, nil, nil), "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"trouble_share",
		"trouble_edit",
		"trouble_history",
		"match_find",
		"match_current",
		"match_incoming",
		"blessing_record",
		"blessing_inbox",
		"blessing_audio_url",
		"match_rollover",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	st, cfg := testSetup(t)

	cfg.MCP.DisabledTools = []string{"match_rollover", "match_rollover", "trouble_edit"}
	s := NewServer(NewHandlers(st, cfg, nil, nil), "test")
	tools := s.ListTools()

	if len(tools) != 8 {
		t.Errorf("registered tool count = %d, want 8", len(tools))
	}
	for _, name := range []string{"match_rollover", "trouble_edit"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	st, cfg := testSetup(t)

	cfg.MCP.DisabledTools = AllToolNames()
	s := NewServer(NewHandlers(st, cfg, nil, nil), "test")

	if n := len(s.ListTools()); n != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", n)
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{name: "all valid", input: []string{"match_rollover", "trouble_edit"}, wantLen: 0},
		{name: "one unknown", input: []string{"match_rollover", "fake_tool"}, wantLen: 1},
		{name: "empty list", input: []string{}, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != 10 {
		t.Errorf("AllToolNames() returned %d names, want 10", len(names))
	}
	if names[0] != "blessing_audio_url" {
		t.Errorf("AllToolNames() not sorted: %v", names)
	}
	if unknown := ValidateDisabledTools(names); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	text := r.Content[0].(mcp.TextContent).Text
	if strings.Contains(text, "secret.db") {
		t.Fatalf("internal error leaked: %s", text)
	}
	assertErrorCode(t, r, string(errors.ErrInternal))
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrappedErr := fmt.Errorf("trouble_edit: %w", errors.NewNotFound("trouble", "abc"))

	r := errorResult(wrappedErr)
	assertErrorCode(t, r, string(errors.ErrNotFound))

	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"].(map[string]any)
	if msg := errObj["message"].(string); !strings.Contains(msg, "trouble_edit") {
		t.Errorf("message should keep wrapper context, got: %s", msg)
	}
	if _, ok := errObj["details"]; !ok {
		t.Error("expected non-INTERNAL errors to include details when present")
	}
}

func TestErrorResult_PlainError(t *testing.T) {
	r := errorResult(fmt.Errorf("boom"))
	assertErrorCode(t, r, string(errors.ErrInternal))
}

// Helper functions

func scrape(t *testing.T, rec metrics.Recorder) string {
	t.Helper()
	h := rec.Handler()
	if h == nil {
		t.Fatal("metrics handler is nil")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	return w.Body.String()
}

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if !result.IsError {
		t.Errorf("expected error result with code %q, got success", expectedCode)
		return
	}
	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Errorf("content is not TextContent")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}

	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}

	code, ok := errorObj["code"].(string)
	if !ok {
		t.Errorf("no code in error object")
		return
	}

	if code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
