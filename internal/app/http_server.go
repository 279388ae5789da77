package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"timetagger-sensors/internal/configflow"
	"timetagger-sensors/internal/coordinator"
	"timetagger-sensors/internal/domain"
	"timetagger-sensors/internal/hub"
)

const maxBodyBytes = 64 << 10

// HTTPServer returns a configured http.Server exposing the config flow, entry
// management and sensor states.
// Call ListenAndServe on the returned server in a goroutine and Shutdown it on exit.
func (a *App) HTTPServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.log.Info("http api configured", slog.String("addr", addr))
	return srv
}

// Handler builds the API router.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/flows", a.handleFlowInit)
		r.Post("/flows/{flowID}", a.handleFlowConfigure)
		r.Delete("/flows/{flowID}", a.handleFlowAbort)

		r.Get("/entries", a.handleListEntries)
		r.Delete("/entries/{entryID}", a.handleRemoveEntry)
		r.Post("/entries/{entryID}/reload", a.handleReloadEntry)
		r.Post("/entries/{entryID}/refresh", a.handleRefreshEntry)

		r.Get("/sensors", a.handleSensors)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	})
	return loggingMiddleware(a.log, c.Handler(r))
}

type flowInitRequest struct {
	APIURL string `json:"api_url"`
}

// flowResponse is a flow result plus, for create_entry, the created entry.
type flowResponse struct {
	configflow.Result
	EntryID    string    `json:"entry_id,omitempty"`
	State      hub.State `json:"state,omitempty"`
	SetupError string    `json:"setup_error,omitempty"`
}

type entryView struct {
	EntryID           string    `json:"entry_id"`
	Title             string    `json:"title"`
	Source            string    `json:"source"`
	Version           int       `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	APIURL            string    `json:"api_url"`
	WorkTags          string    `json:"work_tags"`
	DailyTarget       float64   `json:"daily_target"`
	State             hub.State `json:"state"`
	LastError         string    `json:"last_error,omitempty"`
	LastUpdateSuccess *bool     `json:"last_update_success,omitempty"`
}

func (a *App) handleFlowInit(w http.ResponseWriter, r *http.Request) {
	var req flowInitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var flowCtx map[string]string
	if req.APIURL != "" {
		flowCtx = map[string]string{configflow.FieldAPIURL: req.APIURL}
	}
	writeJSON(w, http.StatusOK, a.flows.Init(flowCtx, nil))
}

func (a *App) handleFlowConfigure(w http.ResponseWriter, r *http.Request) {
	var in configflow.Input
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := a.flows.Configure(chi.URLParam(r, "flowID"), in)
	if errors.Is(err, configflow.ErrUnknownFlow) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if res.Type != configflow.ResultCreateEntry {
		writeJSON(w, http.StatusOK, flowResponse{Result: res})
		return
	}

	entry, err := a.createEntry(r.Context(), res, domain.SourceUser)
	resp := flowResponse{Result: res, EntryID: entry.EntryID, State: hub.StateLoaded}
	// The token is only echoed on the form step.
	redacted := *res.Data
	redacted.Token = ""
	resp.Data = &redacted
	switch {
	case errors.Is(err, hub.ErrSetupFailed):
		resp.State = hub.StateSetupError
		resp.SetupError = err.Error()
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *App) handleFlowAbort(w http.ResponseWriter, r *http.Request) {
	if err := a.flows.Abort(chi.URLParam(r, "flowID")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := a.hub.Entries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]entryView, 0, len(entries))
	for _, st := range entries {
		e := st.Entry
		v := entryView{
			EntryID:     e.EntryID,
			Title:       e.Title,
			Source:      e.Source,
			Version:     e.Version,
			CreatedAt:   e.CreatedAt,
			APIURL:      e.Data.APIURL,
			WorkTags:    e.Data.WorkTags,
			DailyTarget: e.Data.DailyTarget,
			State:       st.State,
			LastError:   st.LastError,
		}
		if rt, ok := a.hub.Runtime(e.EntryID); ok {
			success := rt.Coordinator.LastUpdateSuccess()
			v.LastUpdateSuccess = &success
			if err := rt.Coordinator.LastError(); err != nil {
				v.LastError = err.Error()
			}
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	if err := a.hub.RemoveEntry(r.Context(), chi.URLParam(r, "entryID")); err != nil {
		writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleReloadEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entryID")
	if err := a.hub.ReloadEntry(r.Context(), id); err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry_id": id, "state": hub.StateLoaded})
}

func (a *App) handleRefreshEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entryID")
	rt, ok := a.hub.Runtime(id)
	if !ok {
		writeError(w, http.StatusNotFound, "entry not loaded")
		return
	}
	if err := rt.Coordinator.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.registry.States(id))
}

// handleSensors returns the latest published states, or evaluates every
// entity at ?at= (RFC3339, or wall clock read as UTC).
func (a *App) handleSensors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if at := q.Get("at"); at != "" {
		t, err := coordinator.ParseWallClock(at)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at: "+err.Error())
			return
		}
		states := a.sensors.StatesAt(a.hub.Runtime, t)
		if id := q.Get("entry_id"); id != "" {
			filtered := states[:0]
			for _, s := range states {
				if s.EntryID == id {
					filtered = append(filtered, s)
				}
			}
			states = filtered
		}
		writeJSON(w, http.StatusOK, states)
		return
	}
	writeJSON(w, http.StatusOK, a.registry.States(q.Get("entry_id")))
}

func writeHubError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, hub.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, hub.ErrUnloadFailed), errors.Is(err, hub.ErrSetupInProgress), errors.Is(err, hub.ErrAlreadyLoaded):
		status = http.StatusConflict
	case errors.Is(err, hub.ErrSetupFailed):
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": msg})
}

// loggingMiddleware provides basic request logging.
func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Duration("dur", time.Since(start)),
		)
	})
}
