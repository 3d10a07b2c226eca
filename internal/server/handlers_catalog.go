package server

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tumulus/tumulus/internal/bloblayout"
	"github.com/tumulus/tumulus/internal/catalog"
	"github.com/tumulus/tumulus/internal/errors"
	"github.com/tumulus/tumulus/internal/ids"
	"github.com/tumulus/tumulus/internal/objectstore"
	"github.com/tumulus/tumulus/internal/patch"
	"github.com/tumulus/tumulus/internal/uploadstate"
)

// handleInitiate implements POST /catalogs (§4.H, the initiate
// three-way decision, and the state table in §4.H).
func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad id", err.Error())
		return
	}
	checksum, err := ids.Parse(req.Checksum)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad checksum", err.Error())
		return
	}

	lock := s.sessionLock(id.String())
	lock.Lock()
	session, found, err := s.State.GetCatalog(id)
	lock.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	if !found {
		lock.Lock()
		createErr := s.State.CreateCatalog(id, checksum, s.Now().UnixMilli())
		lock.Unlock()
		if createErr != nil {
			writeError(w, http.StatusInternalServerError, "internal error", createErr.Error())
			return
		}
		writeJSON(w, http.StatusOK, initiateResponse{ID: id.String(), Resuming: false})
		return
	}

	if session.Checksum != checksum {
		fresh := uuid.New()
		lock2 := s.sessionLock(fresh.String())
		lock2.Lock()
		createErr := s.State.CreateCatalog(fresh, checksum, s.Now().UnixMilli())
		lock2.Unlock()
		if createErr != nil {
			writeError(w, http.StatusInternalServerError, "internal error", createErr.Error())
			return
		}
		writeJSON(w, http.StatusOK, initiateResponse{ID: fresh.String(), Resuming: false})
		return
	}

	// matching checksum: Pending/Uploading/Complete all resume.
	var missingHex []string
	if session.Status != uploadstate.Complete {
		lock.Lock()
		outstanding, getErr := s.State.GetCatalogExtents(id)
		lock.Unlock()
		if getErr != nil {
			writeError(w, http.StatusInternalServerError, "internal error", getErr.Error())
			return
		}
		missing, err := recomputeMissing(s.Store, outstanding)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error", err.Error())
			return
		}
		missingHex = hexList(missing)
	}

	writeJSON(w, http.StatusOK, initiateResponse{ID: id.String(), Resuming: true, MissingExtents: missingHex})
}

// handleCheck implements POST /catalogs/check.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}

	type candidate struct {
		id        uuid.UUID
		createdAt int64
	}
	var complete []candidate

	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad id", err.Error())
			return
		}
		session, found, err := s.State.GetCatalog(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error", err.Error())
			return
		}
		if found && session.Status == uploadstate.Complete {
			complete = append(complete, candidate{id: id, createdAt: session.CreatedAt})
		}
	}

	sort.Slice(complete, func(i, j int) bool { return complete[i].createdAt > complete[j].createdAt })

	resp := checkResponse{Existing: make([]string, len(complete))}
	for i, c := range complete {
		resp.Existing[i] = c.id.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleList implements GET /catalogs.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.Store.CatalogPath(""))
	if err != nil && !os.IsNotExist(err) {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePutCatalog implements PUT /catalogs/:id (§4.H).
func (s *Server) handlePutCatalog(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad id", err.Error())
		return
	}

	lock := s.sessionLock(id.String())
	lock.Lock()
	session, found, err := s.State.GetCatalog(id)
	lock.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not found", "unknown catalog id")
		return
	}

	path := s.Store.CatalogPath(id.String())
	wrote, err := objectstore.WriteAtomicStream(path, r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	if wrote {
		body, err := os.ReadFile(path)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error", err.Error())
			return
		}
		if ids.Sum(body) != session.Checksum {
			_ = os.Remove(path)
			writeError(w, http.StatusBadRequest, "checksum mismatch", "catalog body does not match the initiated checksum")
			return
		}
	}

	missing, err := extractAndMarkOutstanding(s, id, path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	lock.Lock()
	statusErr := s.State.UpdateStatus(id, uploadstate.Uploading)
	lock.Unlock()
	if statusErr != nil {
		writeError(w, http.StatusInternalServerError, "internal error", statusErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, putCatalogResponse{MissingExtents: hexList(missing)})
}

// handleFinalize implements POST /catalogs/:id.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad id", err.Error())
		return
	}

	lock := s.sessionLock(id.String())
	lock.Lock()
	session, found, err := s.State.GetCatalog(id)
	lock.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not found", "unknown catalog id")
		return
	}
	if session.Status == uploadstate.Complete {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	lock.Lock()
	outstanding, err := s.State.GetCatalogExtents(id)
	lock.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	missing, err := recomputeMissing(s.Store, outstanding)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	if len(missing) > 0 {
		writeJSON(w, http.StatusOK, finalizeResponse{Complete: false, MissingExtents: hexList(missing)})
		return
	}

	lock.Lock()
	statusErr := s.State.UpdateStatus(id, uploadstate.Complete)
	lock.Unlock()
	if statusErr != nil {
		writeError(w, http.StatusInternalServerError, "internal error", statusErr.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePutCatalogPatch implements PUT /catalogs/:id/patch (§4.H, §4.L).
func (s *Server) handlePutCatalogPatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad id", err.Error())
		return
	}
	referenceID, err := uuid.Parse(r.URL.Query().Get("reference"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad reference", err.Error())
		return
	}
	checksum, err := ids.Parse(r.URL.Query().Get("checksum"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad checksum", err.Error())
		return
	}

	lock := s.sessionLock(id.String())
	lock.Lock()
	session, found, err := s.State.GetCatalog(id)
	lock.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not found", "unknown catalog id")
		return
	}
	if session.Checksum != checksum {
		writeError(w, http.StatusBadRequest, "checksum mismatch", "patch target checksum does not match the initiated checksum")
		return
	}

	referencePath := s.Store.CatalogPath(referenceID.String())
	if ok, err := objectstore.Exists(referencePath); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, "not found", "reference catalog not found")
		return
	}

	patchBytes, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "patch malformed", err.Error())
		return
	}

	referenceFile, err := os.Open(referencePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	defer referenceFile.Close()

	reconstructed, err := patch.Apply(referenceFile, bytes.NewReader(patchBytes), checksum)
	if err != nil {
		if errors.Is(err, patch.ErrChecksumMismatch) {
			writeError(w, http.StatusBadRequest, "checksum mismatch", err.Error())
		} else {
			writeError(w, http.StatusBadRequest, "patch malformed", err.Error())
		}
		return
	}

	path := s.Store.CatalogPath(id.String())
	if _, err := objectstore.WriteAtomic(path, reconstructed); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	missing, err := extractAndMarkOutstanding(s, id, path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}

	lock.Lock()
	statusErr := s.State.UpdateStatus(id, uploadstate.Uploading)
	lock.Unlock()
	if statusErr != nil {
		writeError(w, http.StatusInternalServerError, "internal error", statusErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, putCatalogResponse{MissingExtents: hexList(missing)})
}

// extractAndMarkOutstanding streams the catalog at path through the
// Catalog Reader, persists each referenced blob's layout as a
// content-addressed object, and records the subset of extents not yet
// present in the store as this session's outstanding set.
func extractAndMarkOutstanding(s *Server, id uuid.UUID, path string) ([]ids.B3, error) {
	reader, err := catalog.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open uploaded catalog")
	}
	defer reader.Close()

	for batch, err := range reader.BlobBatches(256) {
		if err != nil {
			return nil, errors.Wrap(err, "read blob batch")
		}
		for _, entry := range batch {
			blobPath := s.Store.BlobPath(entry.BlobID)
			encoded := bloblayout.Encode(entry.Layout)
			if _, err := objectstore.WriteAtomic(blobPath, encoded); err != nil {
				return nil, errors.Wrapf(err, "store blob layout %v", entry.BlobID)
			}
		}
	}

	extentIDs, err := reader.ExtentIDs()
	if err != nil {
		return nil, errors.Wrap(err, "read extent ids")
	}

	missing, err := recomputeMissing(s.Store, extentIDs)
	if err != nil {
		return nil, err
	}

	lock := s.sessionLock(id.String())
	lock.Lock()
	err = s.State.SetCatalogExtents(id, missing)
	lock.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "set outstanding extents")
	}

	return missing, nil
}

func recomputeMissing(store *objectstore.Store, candidates []ids.B3) ([]ids.B3, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	existing, err := store.ExtentsExist(candidates)
	if err != nil {
		return nil, err
	}
	missing := make([]ids.B3, 0, len(candidates))
	for _, id := range candidates {
		if !existing[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func hexList(idList []ids.B3) []string {
	out := make([]string, len(idList))
	for i, id := range idList {
		out[i] = id.String()
	}
	return out
}
