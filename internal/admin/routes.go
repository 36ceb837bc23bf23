package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bgsched/internal/runtime/supervisor"
	"bgsched/internal/storage"
	"bgsched/internal/task/executor"
	"bgsched/internal/task/scheduler"
	logx "bgsched/pkg/logx"
)

// Engine is the host surface the API drives.
type Engine interface {
	State() executor.State
	Pause()
	Resume()
	// Tick runs one scheduler tick (or drains the queue) and reports how many ran.
	Tick(ctx context.Context, drain bool) (int, error)
	// Trigger wakes the loop through its signal; false when there is none.
	Trigger() bool
	Snapshot() scheduler.Snapshot
	Counters() supervisor.Counters
}

const defaultRunsLimit = 50

type handlers struct {
	eng   Engine
	store storage.Store
	log   logx.Logger
	start time.Time
}

func newRouter(eng Engine, store storage.Store, log logx.Logger) http.Handler {
	h := &handlers{eng: eng, store: store, log: log, start: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/status", h.status)
	r.Post("/pause", h.pause)
	r.Post("/resume", h.resume)
	r.Post("/tick", h.tick)
	r.Post("/trigger", h.trigger)
	r.Get("/runs", h.runs)
	return r
}

type statusResponse struct {
	State      executor.State      `json:"state"`
	Uptime     string              `json:"uptime"`
	Scheduler  scheduler.Snapshot  `json:"scheduler"`
	Goroutines supervisor.Counters `json:"goroutines"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, statusResponse{
		State:      h.eng.State(),
		Uptime:     time.Since(h.start).Round(time.Second).String(),
		Scheduler:  h.eng.Snapshot(),
		Goroutines: h.eng.Counters(),
	})
}

type stateResponse struct {
	State executor.State `json:"state"`
}

func (h *handlers) pause(w http.ResponseWriter, r *http.Request) {
	h.eng.Pause()
	respondOK(w, r, stateResponse{State: h.eng.State()})
}

func (h *handlers) resume(w http.ResponseWriter, r *http.Request) {
	h.eng.Resume()
	respondOK(w, r, stateResponse{State: h.eng.State()})
}

type tickResponse struct {
	Ticks int `json:"ticks"`
}

// tick accepts ?drain=true to keep ticking until the queue is empty.
func (h *handlers) tick(w http.ResponseWriter, r *http.Request) {
	drain, _ := strconv.ParseBool(r.URL.Query().Get("drain"))
	n, err := h.eng.Tick(r.Context(), drain)
	if err != nil {
		h.log.Warn("admin tick failed", logx.Int("ticks", n), logx.Any("err", err))
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, r, tickResponse{Ticks: n})
}

type triggerResponse struct {
	Triggered bool `json:"triggered"`
}

func (h *handlers) trigger(w http.ResponseWriter, r *http.Request) {
	if !h.eng.Trigger() {
		respondError(w, r, http.StatusConflict, "no signal attached")
		return
	}
	respondOK(w, r, triggerResponse{Triggered: true})
}

func (h *handlers) runs(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, r, http.StatusServiceUnavailable, storage.ErrDisabled.Error())
		return
	}
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error("list runs failed", logx.Any("err", err))
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	respondOK(w, r, runs)
}

// Response is the envelope of every reply.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func respondOK(w http.ResponseWriter, r *http.Request, data any) {
	respondJSON(w, r, http.StatusOK, Response{Status: "ok", Data: data})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	respondJSON(w, r, status, Response{Status: "error", Error: msg})
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, resp Response) {
	resp.RequestID = middleware.GetReqID(r.Context())
	resp.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
				logx.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
