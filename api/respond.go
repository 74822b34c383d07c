package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jeffsasaki/pledge-storefront/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Field   string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Message: message, Type: http.StatusText(status), Code: status},
	})
}

func writeFieldError(w http.ResponseWriter, status int, field, message string) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Message: message, Type: http.StatusText(status), Code: status, Field: field},
	})
}

const maxBodyBytes = 64 << 10

// decodeBody reads a JSON request body of at most maxBodyBytes into v. On
// failure the error response is already written.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
	return false
}

// orderJSON is an order as the presentation layer shows it.
type orderJSON struct {
	model.Order
	StatusLabel string `json:"status_label"`
}

func present(orders []model.Order) []orderJSON {
	out := make([]orderJSON, len(orders))
	for i, o := range orders {
		out[i] = orderJSON{Order: o, StatusLabel: o.Status.Label()}
	}
	return out
}
