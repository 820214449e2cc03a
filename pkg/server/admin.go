package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/storage"
)

const defaultRecentLimit = 100

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Configuration())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Metrics())
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	n, ok := queryInt(w, r, "n", defaultRecentLimit)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": s.manager.Collector().Recent(n),
	})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	errs := s.manager.ConfigurationErrors()
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": errs})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if c := r.URL.Query().Get("capability"); c != "" {
		names := s.manager.ProvidersWithCapability(routing.Capability(c))
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"capability": c, "providers": names})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.manager.Metrics().ProviderHealth})
}

func (s *Server) handleMark(healthy bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		var err error
		if healthy {
			err = s.manager.MarkHealthy(name)
		} else {
			err = s.manager.MarkUnhealthy(name)
		}
		if err != nil {
			writeGatewayError(w, err)
			return
		}

		entry, err := s.manager.Provider(name)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"provider": name,
			"state":    entry.Health,
		})
	}
}

func (s *Server) handleDebugRoute(w http.ResponseWriter, r *http.Request) {
	var req routing.Request
	if status, err := decodeJSON(r, &req); err != nil {
		writeError(w, status, routing.CodeInvalidRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.manager.DebugRoutingDecision(&req))
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	list, err := s.store.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", err.Error())
		return
	}
	if list == nil {
		list = []storage.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": list})
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var (
		snap *storage.Snapshot
		err  error
	)
	if id == "latest" {
		snap, err = s.store.Latest(r.Context())
	} else {
		snap, err = s.store.Get(r.Context(), id)
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "SNAPSHOT_NOT_FOUND", err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", err.Error())
	default:
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) handleTakeSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshots.SnapshotNow(r.Context(), "manual")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, snap.Summarize())
}

// queryInt parses a positive integer query parameter. It writes a 400 and
// returns false when the value is malformed.
func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, routing.CodeInvalidRequest, "query parameter "+key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
