package httpapi

import (
	"net/http"
	"time"

	"bgremover/internal/http/handlers"
	appmw "bgremover/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		appmw.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		appmw.Logger(app.Logger),
	)
	if app.Config != nil {
		r.Use(appmw.CORS(app.Config.CORSOrigins))
	}

	r.Get("/v1/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", app.Metrics())

	limit := 0
	if app.Config != nil {
		limit = app.Config.RateLimitPerMin
	}
	r.Group(func(r chi.Router) {
		r.Use(appmw.RateLimit(limit, time.Minute))
		r.Post("/process-image", app.ProcessImage)
		r.Post("/remove-bg", app.RemoveBG)
		r.Post("/download-image", app.DownloadImage)
	})

	return r
}
