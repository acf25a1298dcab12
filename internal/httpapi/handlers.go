package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bugfix-relay/internal/games"
)

type PlayerCounter interface {
	Count(ctx context.Context) (int, error)
}

type GameStats interface {
	Stats(ctx context.Context) (games.Stats, error)
}

type statsResponse struct {
	Players      int `json:"players"`
	LiveGames    int `json:"liveGames"`
	WaitingGames int `json:"waitingGames"`
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Stats reports registry sizes. It reads both registries through their
// inboxes, so a stopped server answers 503.
func Stats(p PlayerCounter, g GameStats, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		n, err := p.Count(ctx)
		if err != nil {
			log.Warn("count players failed", zap.Error(err))
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		s, err := g.Stats(ctx)
		if err != nil {
			log.Warn("game stats failed", zap.Error(err))
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statsResponse{Players: n, LiveGames: s.Live, WaitingGames: s.Waiting})
	}
}
