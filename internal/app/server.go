package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/healthchat-app/HealthChat/internal/api/handlers"
	appMiddleware "github.com/healthchat-app/HealthChat/internal/api/middlewares"
	"github.com/healthchat-app/HealthChat/internal/config"
	"github.com/healthchat-app/HealthChat/internal/core"
	"github.com/healthchat-app/HealthChat/internal/core/clock"
	"github.com/healthchat-app/HealthChat/internal/core/notify"
	"github.com/healthchat-app/HealthChat/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, store core.ProfileStore, obj core.ObjectClient, chat core.ChatProvider, mail core.Mailer, clk clock.Clock, bus *notify.Bus) *Server {
	profileSvc := services.NewProfileService(store)
	otpSvc := services.NewOTPService(clk, time.Duration(cfg.OTPTTLMin)*time.Minute)

	authHandler := handlers.NewAuthHandler(profileSvc, otpSvc, mail)
	profileHandler := handlers.NewProfileHandler(profileSvc)
	reportHandler := handlers.NewReportHandler(profileSvc, obj, cfg)
	chatHandler := handlers.NewChatHandler(profileSvc, store, chat, clk, bus)
	adminHandler := handlers.NewAdminHandler(store, mail)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/verify-otp", authHandler.VerifyOTP)
		api.Post("/resend-otp", authHandler.ResendOTP)
		api.Post("/login", authHandler.Login)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware)

			protected.Get("/profile", profileHandler.GetProfile)
			protected.Put("/profile", profileHandler.SaveProfile)

			protected.Post("/reports/upload", reportHandler.Upload)
			protected.Delete("/reports", reportHandler.Delete)

			protected.Get("/chat/sessions", chatHandler.GetSessions)
			protected.Post("/chat/sessions", chatHandler.CreateSession)
			protected.Post("/chat/send", chatHandler.Send)

			protected.Group(func(admin chi.Router) {
				admin.Use(appMiddleware.AdminOnly)
				admin.Get("/admin/users", adminHandler.ListUsers)
				admin.Post("/admin/users/ban", adminHandler.SetBanned)
				admin.Delete("/admin/users/{email}", adminHandler.DeleteUser)
				admin.Post("/admin/broadcast", adminHandler.Broadcast)
			})
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
