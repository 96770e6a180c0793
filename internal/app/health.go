package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ykvlv/funnel-bot/internal/domain"
	"github.com/ykvlv/funnel-bot/internal/store"
)

// statsResponse is the /stats payload.
type statsResponse struct {
	Alive    int `json:"alive"`
	Finished int `json:"finished"`
}

// newHealthRouter serves liveness and funnel counters.
func newHealthRouter(repo store.Repo, log *zap.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := repo.Ping(ctx); err != nil {
			log.Warn("healthz: store ping failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	r.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		counts, err := repo.CountByStatus(ctx)
		if err != nil {
			log.Error("stats: count failed", zap.Error(err))
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statsResponse{
			Alive:    counts[domain.StatusAlive],
			Finished: counts[domain.StatusFinished],
		})
	}).Methods(http.MethodGet)

	return r
}
