package routes

import (
	"net/http"

	_ "github.com/Dosada05/skill-tournaments/docs"
	"github.com/Dosada05/skill-tournaments/handlers"
	"github.com/Dosada05/skill-tournaments/middleware"
	"github.com/Dosada05/skill-tournaments/models"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	Logger         *zap.Logger
}

func SetupRoutes(
	router *chi.Mux,
	opts Options,
	tournamentHandler *handlers.TournamentHandler,
	entryHandler *handlers.EntryHandler,
	adminJobHandler *handlers.AdminJobHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestLogger(opts.Logger))
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authenticate := middleware.Authenticate(opts.JWTSecret, opts.Logger)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/swagger/*", httpSwagger.WrapHandler)

	router.Get("/ws/tournaments/{tournamentID}", webSocketHandler.ServeWs)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/games/{gameID}/tournaments", tournamentHandler.ListByGameHandler)
		r.Get("/users/{userID}/stats", tournamentHandler.PlayerStatsHandler)

		r.Route("/tournaments", func(r chi.Router) {
			r.Get("/", tournamentHandler.ListHandler)

			r.Group(func(r chi.Router) {
				r.Use(authenticate, adminOnly)
				r.Post("/", tournamentHandler.CreateHandler)
			})

			r.Route("/{tournamentID}", func(r chi.Router) {
				r.Get("/", tournamentHandler.GetByIDHandler)
				r.Get("/leaderboard", tournamentHandler.LeaderboardHandler)

				r.Group(func(r chi.Router) {
					r.Use(authenticate)
					r.Post("/entries", entryHandler.JoinHandler)
					r.Get("/entries/me", entryHandler.MyEntryHandler)
					r.Delete("/entries/me", entryHandler.LeaveHandler)
					r.Post("/entries/me/payment", entryHandler.ConfirmPaymentHandler)
					r.Post("/scores", tournamentHandler.SubmitScoreHandler)
				})

				r.Group(func(r chi.Router) {
					r.Use(authenticate, adminOnly)
					r.Post("/open", tournamentHandler.OpenHandler)
					r.Post("/cancel", tournamentHandler.CancelHandler)
					r.Get("/instructions", tournamentHandler.InstructionsHandler)
				})
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Get("/users/me/entries", entryHandler.MyEntriesHandler)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authenticate, adminOnly)
			r.Get("/jobs/dead", adminJobHandler.ListDeadJobs)
			r.Post("/jobs/{jobID}/requeue", adminJobHandler.RequeueJob)
			r.Get("/tournaments/{tournamentID}/jobs", adminJobHandler.ListTournamentJobs)
		})
	})
}
