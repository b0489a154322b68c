package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/reelchat/call-service/internal/auth"
	"github.com/reelchat/call-service/internal/repository"
	"github.com/reelchat/call-service/pkg/logger"
)

// NewRouter assembles the full HTTP surface: health probe, authenticated
// call API and the state websocket.
func NewRouter(hub *Hub, authManager *auth.Manager, repos repository.Manager) *mux.Router {
	router := mux.NewRouter()
	router.Use(CORSMiddleware)

	router.HandleFunc("/health", healthHandler(repos)).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(LoggingMiddleware)
	api.Use(AuthMiddleware(authManager))
	NewCallHandler(hub).SetupCallRoutes(api)

	ws := router.PathPrefix("/ws").Subrouter()
	ws.Use(AuthMiddleware(authManager))
	ws.HandleFunc("/calls/state", NewStateSocketHandler(hub).Serve).Methods("GET")

	logger.Base().Info("all application routes registered")
	return router
}

func healthHandler(repos repository.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repos.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
