// Package history serves recorded rollout runs over HTTP and records the
// run reports published on NATS.
package history

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/atvirokodosprendimai/rollout/internal/db"
	"github.com/atvirokodosprendimai/rollout/internal/log"
	"github.com/atvirokodosprendimai/rollout/internal/messaging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
)

// HostView is the JSON form of one host result.
type HostView struct {
	Host        string `json:"host"`
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	ContainerID string `json:"container_id,omitempty"`
	PublicPort  string `json:"public_port,omitempty"`
}

// RunView is the JSON form of a run.
type RunView struct {
	RunID      string     `json:"run_id"`
	Action     string     `json:"action"`
	Image      string     `json:"image,omitempty"`
	Tag        string     `json:"tag,omitempty"`
	Succeeded  bool       `json:"succeeded"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Hosts      []HostView `json:"hosts"`
}

func viewOf(r *db.Run) RunView {
	v := RunView{
		RunID:      r.RunID,
		Action:     r.Action,
		Image:      r.Image,
		Tag:        r.Tag,
		Succeeded:  r.Succeeded(),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Hosts:      make([]HostView, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		v.Hosts = append(v.Hosts, HostView{
			Host:        res.Host,
			Success:     res.Success,
			Message:     res.Message,
			ContainerID: res.ContainerID,
			PublicPort:  res.PublicPort,
		})
	}
	return v
}

// NewRouter returns the HTTP handler for the history API.
func NewRouter(store *db.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
	})
	r.Get("/runs", listRunsHandler(store))
	r.Get("/runs/{id}", getRunHandler(store))
	return r
}

func listRunsHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		runs, err := store.ListRuns(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views := make([]RunView, 0, len(runs))
		for i := range runs {
			views = append(views, viewOf(&runs[i]))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func getRunHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := store.GetRun(chi.URLParam(r, "id"))
		if errors.Is(err, db.ErrRunNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(run))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RunFromReport converts a published report into a storable run.
func RunFromReport(rep messaging.RunReport) *db.Run {
	run := &db.Run{
		RunID:      rep.RunID,
		Action:     rep.Action,
		Image:      rep.Image,
		Tag:        rep.Tag,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
	}
	for _, h := range rep.Hosts {
		run.Results = append(run.Results, db.HostResult{
			Host:        h.Host,
			Success:     h.Success,
			Message:     h.Message,
			ContainerID: h.ContainerID,
			PublicPort:  h.PublicPort,
		})
	}
	return run
}

// Subscribe records every run report published on messaging.SubjectRunFinished.
func Subscribe(nc *nats.Conn, store *db.Store) (*nats.Subscription, error) {
	return nc.Subscribe(messaging.SubjectRunFinished, runFinishedHandler(store))
}

func runFinishedHandler(store *db.Store) nats.MsgHandler {
	logger := log.WithComponent("history")
	return func(m *nats.Msg) {
		var rep messaging.RunReport
		if err := json.Unmarshal(m.Data, &rep); err != nil {
			logger.Error().Err(err).Msg("Unmarshalling run report")
			return
		}
		if err := store.RecordRun(RunFromReport(rep)); err != nil {
			logger.Error().Err(err).Str("run_id", rep.RunID).Msg("Recording run")
			return
		}
		logger.Info().Str("run_id", rep.RunID).Str("action", rep.Action).Int("hosts", len(rep.Hosts)).Msg("Run recorded")
	}
}
