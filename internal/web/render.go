package web

import (
	"bytes"
	_ "embed"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ugoodapp/ugood/internal/errors"
)

// maxBodyBytes caps request bodies; the largest field is a 300-rune text.
const maxBodyBytes = 64 << 10

//go:embed docs/api.md
var apiDoc []byte

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderError writes the error envelope. INTERNAL messages are replaced so
// driver details never reach clients; the original goes to the log.
func (h *Handlers) renderError(w http.ResponseWriter, r *http.Request, err error) {
	uErr, ok := errors.As(err)
	if !ok {
		uErr = errors.NewInternal(err)
	}

	message := uErr.Message
	if uErr.Code == errors.ErrInternal {
		ev := h.logger.Error().Err(err).Str("path", r.URL.Path)
		if info := requestInfoFrom(r.Context()); info != nil {
			ev = ev.Str("request_id", info.ID)
		}
		ev.Msg("internal error")
		message = "internal error"
	}

	body := map[string]any{
		"code":    string(uErr.Code),
		"message": message,
		"status":  uErr.Status,
	}
	if len(uErr.Details) > 0 && uErr.Code != errors.ErrInternal {
		body["details"] = uErr.Details
	}
	if errors.Retryable(uErr) {
		w.Header().Set("Retry-After", "1")
	}
	renderJSON(w, uErr.Status, map[string]any{"error": body})
}

// decodeJSON reads a single JSON object from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return errors.NewInvalidRequest("request body is required")
		}
		return errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	if dec.More() {
		return errors.NewInvalidRequest("request body must be a single JSON object")
	}
	return nil
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md []byte) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert(md, &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(string(md)))
	}
	return template.HTML(buf.String())
}

var docsPage = template.Must(template.New("docs").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>UGood API {{.Version}}</title>
<style>body{font-family:system-ui,sans-serif;max-width:46rem;margin:2rem auto;padding:0 1rem;line-height:1.5}code,pre{background:#f4f1ec}</style>
</head>
<body>{{.Body}}</body>
</html>
`))

// parseIntParam reads a non-negative integer query parameter, or def.
func parseIntParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.NewInvalidRequest(name + " must be a non-negative integer")
	}
	return n, nil
}
