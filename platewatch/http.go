package platewatch

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/hazyhaar/plates/kit"
	"github.com/hazyhaar/plates/platewatch/internal/store"
	"github.com/hazyhaar/plates/shield"
)

// Handler returns the read-only status API:
//
//	GET /healthz
//	GET /status
//	GET /dispatches?plate=&limit=
//	GET /snapshots?limit=
//	GET /snapshots/{id}
func (s *Service) Handler() http.Handler {
	eps := s.buildEndpoints()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.APIStack(s.logger, s.cfg.Status.Rate, s.cfg.Status.Burst) {
		r.Use(mw)
	}
	r.Use(kitContext)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", serve(eps.status, func(*http.Request) (any, error) { return nil, nil }))
	r.Get("/dispatches", serve(eps.dispatches, func(r *http.Request) (any, error) {
		limit, err := queryInt(r, "limit")
		if err != nil {
			return nil, err
		}
		return &DispatchesRequest{Plate: r.URL.Query().Get("plate"), Limit: limit}, nil
	}))
	r.Get("/snapshots", serve(eps.snapshots, func(r *http.Request) (any, error) {
		limit, err := queryInt(r, "limit")
		if err != nil {
			return nil, err
		}
		return &SnapshotsRequest{Limit: limit}, nil
	}))
	r.Get("/snapshots/{id}", serve(eps.snapshot, func(r *http.Request) (any, error) {
		return &SnapshotRequest{ID: chi.URLParam(r, "id")}, nil
	}))
	return r
}

func kitContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRequestID(ctx, middleware.GetReqID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.poller.Status()
	code := http.StatusOK
	if st.Phase == PhaseStarting || st.Phase == PhaseStopped {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"phase":   st.Phase,
		"session": st.SessionState,
	})
}

func serve(ep kit.Endpoint, decode func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := ep(r.Context(), req)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(key + ": not an integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
