// Package api is the HTTP trigger API of the daemon.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/internal/serverutil"
	"github.com/andrej220/devbackup/pkg/models"
)

// Submitter starts or queues a run and returns its id.
type Submitter interface {
	Submit(ctx context.Context, req models.RunRequest) (uuid.UUID, error)
}

// Canceller stops a run started in this process.
type Canceller interface {
	Cancel(id uuid.UUID) bool
}

type Deps struct {
	Submitter Submitter
	// Canceller is nil when runs are queued to another process.
	Canceller Canceller
	Secret    func() []byte
	Logger    lg.Logger
}

// RunAccepted is the body of a 202 answer.
type RunAccepted struct {
	RunID uuid.UUID `json:"runId"`
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = lg.Discard
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		serverutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1/runs", func(r chi.Router) {
		r.Use(serverutil.JWTAuth(d.Secret))
		r.Method(http.MethodPost, "/", serverutil.NewValidationHandler[models.RunRequest](submitHandler(d)))
		r.Delete("/{id}", cancelHandler(d))
	})
	return r
}

func submitHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := serverutil.RequestFrom[models.RunRequest](r.Context())
		if !ok {
			serverutil.WriteError(w, http.StatusInternalServerError, "request not decoded")
			return
		}
		// the run outlives the HTTP request
		id, err := d.Submitter.Submit(context.WithoutCancel(r.Context()), req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, models.ErrValidation) {
				status = http.StatusUnprocessableEntity
			}
			lg.FromContext(r.Context()).Error("run not accepted", lg.String("task", req.TaskName), lg.Err(err))
			serverutil.WriteError(w, status, err.Error())
			return
		}
		lg.FromContext(r.Context()).Info("run accepted",
			lg.String("run_id", id.String()),
			lg.String("task", req.TaskName),
			lg.String("by", serverutil.Subject(r.Context())))
		serverutil.WriteJSON(w, http.StatusAccepted, RunAccepted{RunID: id})
	}
}

func cancelHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Canceller == nil {
			serverutil.WriteError(w, http.StatusNotImplemented, "runs are queued; cancel them where they execute")
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			serverutil.WriteError(w, http.StatusBadRequest, "invalid run id")
			return
		}
		if !d.Canceller.Cancel(id) {
			serverutil.WriteError(w, http.StatusNotFound, "run not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func requestLogger(base lg.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := base.With(lg.String("request_id", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(lg.Attach(r.Context(), log)))
			log.Debug("http request",
				lg.String("method", r.Method),
				lg.String("path", r.URL.Path),
				lg.Int("status", ww.Status()),
				lg.Duration("elapsed", time.Since(start)))
		})
	}
}
