package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig carries the secrets and settings the router needs
type RouterConfig struct {
	JWTSecret      string
	InternalSecret string
	QueueSecret    string
	QueueMaxSkew   time.Duration
	AllowedOrigins []string
	MetricsHandler http.Handler
	Now            func() time.Time
}

// Handlers groups the endpoint handlers mounted by NewRouter
type Handlers struct {
	Health   *HealthHandler
	Campaign *CampaignHandler
	Device   *DeviceHandler
	Queue    *QueueHandler
}

// NewRouter builds the API routes
func NewRouter(h Handlers, cfg RouterConfig, logger *slog.Logger) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QueueMaxSkew <= 0 {
		cfg.QueueMaxSkew = 5 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggingMiddleware(logger))
	r.Use(CORSMiddleware(cfg.AllowedOrigins))

	r.Get("/health", h.Health.Health)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.Campaign.CreateCampaign)
			r.Get("/", h.Campaign.ListCampaigns)
			r.Post("/schedule-preview", h.Campaign.SchedulePreview)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Campaign.GetCampaign)
				r.Get("/messages", h.Campaign.ListMessages)
				r.Post("/start", h.Campaign.StartCampaign)
				r.Post("/pause", h.Campaign.PauseCampaign)
				r.Post("/cancel", h.Campaign.CancelCampaign)
				r.Patch("/active", h.Campaign.SetActive)
				r.Put("/active-hours", h.Campaign.UpdateActiveHours)
				r.Post("/personalized-preview", h.Campaign.PreviewPersonalized)
			})
		})

		r.Get("/messages/{id}", h.Campaign.GetMessage)

		r.Get("/devices", h.Device.ListDevices)
		r.Post("/devices/{id}/refresh", h.Device.RefreshDevice)
		r.Post("/blacklist", h.Device.AddToBlacklist)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(QueueSignatureMiddleware(cfg.QueueSecret, cfg.QueueMaxSkew, cfg.Now, logger))
			r.Post("/queue/process-batch", h.Queue.ProcessBatch)
			r.Post("/queue/send-message", h.Queue.SendMessage)
		})
		r.Group(func(r chi.Router) {
			r.Use(InternalSecretMiddleware(cfg.InternalSecret))
			r.Post("/cron/start-due", h.Queue.StartDue)
		})
	})

	return r
}
