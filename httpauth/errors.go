package httpauth

import (
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/tokenguard"
)

type errorResponse struct {
	Error string `json:"error"`
}

// StatusFor maps an engine error to its HTTP status.
func StatusFor(err error) int {
	kind := tokenguard.KindOf(err)
	switch {
	case kind == tokenguard.KindNone:
		return http.StatusOK
	case kind.Authentication():
		return http.StatusUnauthorized
	case kind == tokenguard.KindForbidden:
		return http.StatusForbidden
	case kind == tokenguard.KindNotFound:
		return http.StatusNotFound
	case kind == tokenguard.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes {"error": <kind>} with the status for err. The error
// text itself never reaches the client.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="tokenguard"`)
	}
	writeJSON(w, status, errorResponse{Error: string(tokenguard.KindOf(err))})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
