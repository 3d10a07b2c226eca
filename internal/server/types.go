package server

import (
	"encoding/json"
	"net/http"

	"github.com/tumulus/tumulus/internal/errors"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}

type initiateRequest struct {
	ID       string `json:"id"`
	Checksum string `json:"checksum"`
}

type initiateResponse struct {
	ID               string   `json:"id"`
	Resuming         bool     `json:"resuming"`
	MissingExtents   []string `json:"missing_extents,omitempty"`
}

type checkRequest struct {
	IDs []string `json:"ids"`
}

type checkResponse struct {
	Existing []string `json:"existing"`
}

type putCatalogResponse struct {
	MissingExtents []string `json:"missing_extents"`
}

type finalizeResponse struct {
	Complete       bool     `json:"complete"`
	MissingExtents []string `json:"missing_extents,omitempty"`
}

type extentsCheckRequest struct {
	IDs []string `json:"ids"`
}

type extentsCheckResponse struct {
	Exists []bool `json:"exists"`
}
