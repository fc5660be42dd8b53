package router

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/auth"
	"github.com/catalyzator-io/catalyzator-sub000/internal/handler"
	"github.com/catalyzator-io/catalyzator-sub000/internal/metrics"
	mw "github.com/catalyzator-io/catalyzator-sub000/internal/middleware"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
)

// Handlers are the HTTP handlers mounted under /api/v1.
type Handlers struct {
	Auth       *handler.AuthHandler
	Forms      *handler.FormHandler
	Submission *handler.SubmissionHandler
	Entity     *handler.EntityHandler
	Section    *handler.SectionHandler
	Profile    *handler.ProfileHandler
	Route      *handler.RouteHandler
	Dashboard  *handler.DashboardHandler
	Admin      *handler.AdminHandler
	Files      *handler.FileHandler
	Health     *handler.HealthHandler
}

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

func New(opts Options, h Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Recovery(opts.Logger))
	r.Use(mw.Logger(opts.Logger))
	r.Use(mw.CORS(opts.AllowedOrigins))
	r.Use(opts.Metrics.Middleware)

	r.Get("/healthz", h.Health.Healthz)
	r.Handle("/metrics", opts.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/auth/login", h.Auth.Login)
		r.Post("/auth/register", h.Auth.Register)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(opts.JWTSecret))

			// Auth and profile
			r.Get("/auth/me", h.Auth.Me)
			r.Patch("/profile", h.Profile.Update)
			r.Post("/profile/picture", h.Profile.UploadPicture)

			// Dashboard
			r.Get("/dashboard", h.Dashboard.Dashboard)

			// Forms
			r.Get("/forms", h.Forms.List)
			r.Get("/forms/{formId}", h.Forms.Get)
			r.Post("/forms/{formId}/steps/{stepId}/validate", h.Forms.ValidateStep)

			// Submissions, addressed as {formId}:{applicationId}
			r.Post("/submissions", h.Submission.Start)
			r.Get("/submissions", h.Submission.List)
			r.Route("/submissions/{subId}", func(r chi.Router) {
				r.Get("/", h.Submission.Get)
				r.Put("/steps/{stepId}", h.Submission.UpdateStep)
				r.Get("/steps/{stepId}/errors", h.Submission.StepErrors)
				r.Post("/steps/{stepId}/skip", h.Submission.SkipStep)
				r.Post("/goto", h.Submission.GoTo)
				r.Post("/submit", h.Submission.Submit)
			})

			// Entities and their application sections
			r.Post("/entities", h.Entity.Create)
			r.Get("/entities", h.Entity.List)
			r.Route("/entities/{entityId}", func(r chi.Router) {
				r.Get("/", h.Entity.Get)
				r.Patch("/", h.Entity.Update)
				r.Post("/members", h.Entity.AddMember)
				r.Post("/waitlist/{productId}", h.Entity.JoinWaitlist)

				r.Get("/applications/{applicationId}/files", h.Section.ListFiles)
				r.Get("/applications/{applicationId}/sections", h.Section.List)
				r.Route("/applications/{applicationId}/sections/{section}", func(r chi.Router) {
					r.Get("/", h.Section.Get)
					r.Put("/", h.Section.Put)
					r.Put("/entries", h.Section.PutEntries)
					r.Post("/files", h.Section.UploadFiles)
				})
			})

			// Route state
			r.Get("/route-state", h.Route.Get)
			r.Get("/route-state/can/{state}", h.Route.Can)
			r.Post("/route-state/transition", h.Route.Transition)

			// Stored objects
			r.Get("/files/*", h.Files.Download)

			// Admin
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin))
				r.Post("/admin/search", h.Admin.Search)
				r.Get("/admin/indexes", h.Admin.ListIndexes)
				r.Post("/admin/compact", h.Admin.Compact)
				r.Get("/admin/stats", h.Admin.Stats)
			})
		})
	})

	return r
}
