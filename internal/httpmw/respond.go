package httpmw

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/keithlinneman/natours-api/internal/xerrors"
)

// WriteJSON encodes v before touching w, so an encoding failure can still
// be returned to the error channel instead of leaving a half-written body.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return xerrors.Wrap(err, "encode response")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
	return nil
}

// NoContent writes an empty 204.
func NoContent(w http.ResponseWriter) error {
	w.WriteHeader(http.StatusNoContent)
	return nil
}
