// Package server implements the HTTP API described in §4.H/§6: a
// content-addressed extent store plus a resumable, patchable catalog
// upload protocol with a small per-catalog state machine. Handlers may
// suspend at any network read, disk I/O, or database call; per-session
// state is only ever held under lock for the synchronous snapshot or
// update, never across an I/O wait (§5).
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tumulus/tumulus/internal/objectstore"
	"github.com/tumulus/tumulus/internal/uploadstate"
)

// Server holds the object store and upload-state DB backing the API,
// plus a map of per-catalog-id locks bracketing state transitions.
type Server struct {
	Store *objectstore.Store
	State *uploadstate.DB

	// Now is the time source used to stamp created_at; overridable in
	// tests.
	Now func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New returns a Server backed by store and state.
func New(store *objectstore.Store, state *uploadstate.DB) *Server {
	return &Server{
		Store: store,
		State: state,
		Now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// sessionLock returns (creating if needed) the mutex guarding catalog
// id's state transitions. Callers must release it before performing
// any await-style I/O (§5, §9 "Control-across-await locks").
func (s *Server) sessionLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Router builds the chi router exposing the HTTP surface of §6.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/catalogs", func(r chi.Router) {
		r.Post("/", s.handleInitiate)
		r.Post("/check", s.handleCheck)
		r.Get("/", s.handleList)
		r.Put("/{id}", s.handlePutCatalog)
		r.Post("/{id}", s.handleFinalize)
		r.Put("/{id}/patch", s.handlePutCatalogPatch)
	})

	r.Route("/extents", func(r chi.Router) {
		r.Post("/check", s.handleExtentsCheck)
		r.Put("/{hex}", s.handlePutExtent)
		r.Get("/{hex}", s.handleGetExtent)
		r.Head("/{hex}", s.handleGetExtent)
	})

	return r
}
