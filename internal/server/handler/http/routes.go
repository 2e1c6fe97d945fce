package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/podsync/internal/middleware"
)

// NewRouter constructs the HTTP handler serving the gpodder API.
//
// Routes:
//
//	GET  /                                              → liveness text
//	POST /api/2/auth/{username}/login.json              → authHandler.Login
//	POST /api/2/auth/{username}/logout.json             → authHandler.Logout
//	GET  /api/2/devices/{username}.json                 → syncHandler.ListDevices
//	POST /api/2/devices/{username}/{deviceid}.json      → syncHandler.UpdateDevice
//	GET  /api/2/subscriptions/{username}/{deviceid}.json→ syncHandler.GetSubscriptions
//	POST /api/2/subscriptions/{username}/{deviceid}.json→ syncHandler.UploadSubscriptions
//	GET  /api/2/episodes/{username}.json                → syncHandler.GetEpisodes
//	POST /api/2/episodes/{username}.json                → syncHandler.UploadEpisodes
func NewRouter(
	authHandler *AuthHandler,
	syncHandler *SyncHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("PodSync is Working!"))
	})

	r.Route("/api/2", func(r chi.Router) {
		r.Post("/auth/{username}/login.json", authHandler.Login)
		r.Post("/auth/{username}/logout.json", authHandler.Logout)

		r.Get("/devices/{usernameFormat}", syncHandler.ListDevices)
		r.Post("/devices/{username}/{deviceFormat}", syncHandler.UpdateDevice)

		r.Get("/subscriptions/{username}/{deviceFormat}", syncHandler.GetSubscriptions)
		r.Post("/subscriptions/{username}/{deviceFormat}", syncHandler.UploadSubscriptions)

		r.Get("/episodes/{usernameFormat}", syncHandler.GetEpisodes)
		r.Post("/episodes/{usernameFormat}", syncHandler.UploadEpisodes)
	})

	return r
}
