package web

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ugoodapp/ugood/internal/audio"
	"github.com/ugoodapp/ugood/internal/auth"
	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/domain"
	"github.com/ugoodapp/ugood/internal/errors"
	"github.com/ugoodapp/ugood/internal/metrics"
	"github.com/ugoodapp/ugood/internal/ops"
	"github.com/ugoodapp/ugood/internal/store"
)

// Handlers contains the HTTP route handlers for the JSON API.
type Handlers struct {
	store   store.Store
	cfg     *config.Config
	logger  zerolog.Logger
	metrics metrics.Recorder
	audio   *audio.Presigner
	version string
}

type contentRequest struct {
	Content string `json:"content"`
}

type blessingRequest struct {
	AudioRef    string  `json:"audio_ref"`
	TextContent *string `json:"text_content,omitempty"`
}

type uploadURLRequest struct {
	ContentType string `json:"content_type"`
}

// matchResponse is the body of POST /v1/matches. Status is "matched" or "no_match".
type matchResponse struct {
	Status  string          `json:"status"`
	Match   *domain.Match   `json:"match,omitempty"`
	Trouble *domain.Trouble `json:"trouble,omitempty"`
	Created bool            `json:"created,omitempty"`
}

// userID returns the authenticated caller and records it for the access log.
func (h *Handlers) userID(r *http.Request) (string, error) {
	id, err := auth.ContextIdentity{}.UserID(r.Context())
	if err != nil {
		return "", err
	}
	if info := requestInfoFrom(r.Context()); info != nil {
		info.UserID = id
	}
	return id, nil
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	if limit, err = parseIntParam(r, "limit", 0); err != nil {
		return 0, 0, err
	}
	if offset, err = parseIntParam(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// HandleDocs handles GET / by rendering the embedded API reference.
func (h *Handlers) HandleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := docsPage.Execute(w, map[string]any{
		"Version": h.version,
		"Body":    renderMarkdown(apiDoc),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("docs template")
	}
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
	})
}

// HandleShareTrouble handles POST /v1/troubles. A first submission answers
// 201; replacing the caller's active trouble answers 200.
func (h *Handlers) HandleShareTrouble(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	var req contentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}

	out, err := ops.ShareTrouble(r.Context(), h.store, h.cfg, ops.ShareTroubleInput{
		AuthorID: userID,
		Content:  req.Content,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	status := http.StatusCreated
	if out.Replaced {
		status = http.StatusOK
	}
	renderJSON(w, status, out)
}

// HandleTroubleHistory handles GET /v1/troubles.
func (h *Handlers) HandleTroubleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	limit, offset, err := pageParams(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	out, err := ops.TroubleHistory(r.Context(), h.store, h.cfg, ops.TroubleHistoryInput{
		AuthorID: userID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleEditTrouble handles PUT /v1/troubles/{id}.
func (h *Handlers) HandleEditTrouble(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	var req contentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}

	out, err := ops.EditTrouble(r.Context(), h.store, h.cfg, ops.EditTroubleInput{
		TroubleID: r.PathValue("id"),
		AuthorID:  userID,
		Content:   req.Content,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleFindMatch handles POST /v1/matches. Running out of troubles is a
// normal outcome and answers 200 with status "no_match".
func (h *Handlers) HandleFindMatch(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	out, err := ops.FindMatch(r.Context(), h.store, h.cfg, ops.FindMatchInput{UserID: userID})
	if err != nil {
		h.metrics.IncMatchOutcome(metrics.OutcomeError)
		h.renderError(w, r, err)
		return
	}
	h.metrics.IncMatchOutcome(metrics.MatchOutcome(out.Created, out.NoMatch))

	if out.NoMatch {
		renderJSON(w, http.StatusOK, matchResponse{Status: "no_match"})
		return
	}
	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	renderJSON(w, status, matchResponse{
		Status:  "matched",
		Match:   out.Match,
		Trouble: out.Trouble,
		Created: out.Created,
	})
}

// HandleCurrentMatch handles GET /v1/matches/current.
func (h *Handlers) HandleCurrentMatch(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	out, err := ops.CurrentMatch(r.Context(), h.store, h.cfg, ops.CurrentMatchInput{UserID: userID})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleMatchInbox handles GET /v1/matches/incoming, the author's view of
// matches made against their troubles.
func (h *Handlers) HandleMatchInbox(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	limit, offset, err := pageParams(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	out, err := ops.MatchInbox(r.Context(), h.store, h.cfg, ops.MatchInboxInput{
		AuthorID: userID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleRecordBlessing handles POST /v1/matches/{id}/blessings.
func (h *Handlers) HandleRecordBlessing(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	var req blessingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}

	out, err := ops.RecordBlessing(r.Context(), h.store, h.cfg, ops.RecordBlessingInput{
		MatchID:     r.PathValue("id"),
		FromUserID:  userID,
		AudioRef:    req.AudioRef,
		TextContent: req.TextContent,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, out)
}

// HandleBlessingInbox handles GET /v1/blessings.
func (h *Handlers) HandleBlessingInbox(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	limit, offset, err := pageParams(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	out, err := ops.BlessingInbox(r.Context(), h.store, h.cfg, ops.BlessingInboxInput{
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleBlessingAudio handles GET /v1/blessings/{id}/audio-url. Only the
// sender and the recipient get a playback URL.
func (h *Handlers) HandleBlessingAudio(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	out, err := ops.BlessingAudio(r.Context(), h.store, h.cfg, h.audio, ops.BlessingAudioInput{
		BlessingID: r.PathValue("id"),
		UserID:     userID,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleUploadURL handles POST /v1/audio/upload-url. The body is optional;
// content_type defaults to audio/mp4.
func (h *Handlers) HandleUploadURL(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if h.audio == nil {
		h.renderError(w, r, errors.NewAudioUnconfigured())
		return
	}

	var req uploadURLRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.renderError(w, r, err)
			return
		}
	}

	upload, err := h.audio.UploadURL(r.Context(), userID, req.ContentType)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, upload)
}
