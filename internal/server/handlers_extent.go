package server

import (
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/tumulus/tumulus/internal/errors"
	"github.com/tumulus/tumulus/internal/ids"
	"github.com/tumulus/tumulus/internal/objectstore"
)

// handlePutExtent implements PUT /extents/:hex64 (§4.H): stream the
// body to a temp file while hashing, then verify the hash against the
// id before the atomic rename.
func (s *Server) handlePutExtent(w http.ResponseWriter, r *http.Request) {
	id, err := ids.Parse(chi.URLParam(r, "hex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad id", err.Error())
		return
	}

	path := s.Store.ExtentPath(id)
	if ok, err := objectstore.Exists(path); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	} else if ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	tmp, err := os.CreateTemp(dirOf(path), "extent-tmp-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	tmpName := tmp.Name()

	h := ids.NewHasher()
	_, copyErr := io.Copy(io.MultiWriter(tmp, hashWriter{h}), r.Body)
	closeErr := tmp.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		writeError(w, http.StatusInternalServerError, "internal error", errors.Wrap(firstNonNil(copyErr, closeErr), "write extent").Error())
		return
	}

	if h.Sum() != id {
		_ = os.Remove(tmpName)
		writeError(w, http.StatusBadRequest, "hash mismatch", "uploaded content does not hash to the requested id")
		return
	}

	if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
		_ = os.Remove(tmpName)
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// handleGetExtent implements both GET and HEAD /extents/:hex64.
func (s *Server) handleGetExtent(w http.ResponseWriter, r *http.Request) {
	id, err := ids.Parse(chi.URLParam(r, "hex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad id", err.Error())
		return
	}

	f, err := os.Open(s.Store.ExtentPath(id))
	if os.IsNotExist(err) {
		writeError(w, http.StatusNotFound, "not found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	w.Header().Set("Content-Length", itoa64(fi.Size()))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.Copy(w, f)
}

// handleExtentsCheck implements POST /extents/check.
func (s *Server) handleExtentsCheck(w http.ResponseWriter, r *http.Request) {
	var req extentsCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}

	parsed := make([]ids.B3, len(req.IDs))
	for i, hexID := range req.IDs {
		id, err := ids.Parse(hexID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad id", err.Error())
			return
		}
		parsed[i] = id
	}

	existing, err := s.Store.ExtentsExist(parsed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	resp := extentsCheckResponse{Exists: make([]bool, len(parsed))}
	for i, id := range parsed {
		resp.Exists[i] = existing[id]
	}
	writeJSON(w, http.StatusOK, resp)
}

type hashWriter struct{ h *ids.Hasher }

func (hw hashWriter) Write(p []byte) (int, error) { return hw.h.Write(p) }

func firstNonNil(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
