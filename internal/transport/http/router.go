package http

import (
	"net/http"

	"github.com/go-auth-api/internal/application/account"
	"github.com/go-auth-api/internal/config"
	"github.com/go-auth-api/internal/transport/http/handler"
	appmiddleware "github.com/go-auth-api/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10 — applied to sensitive public endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	accountSvc := account.NewService(account.ServiceDeps{
		UserRepo:    deps.UserRepo,
		ObjectStore: deps.S3Store,
		Mailer:      deps.Mailer,
		Signer:      deps.JWTProvider,
		OTPTTL:      cfg.OTPTTL,
		MailTimeout: cfg.MailTimeout,
	})

	debug := cfg.IsDevelopment()
	healthH := handler.NewHealthHandler()
	authH := handler.NewAuthHandler(accountSvc, deps.S3Store, cfg.TokenTTL, debug)
	userH := handler.NewUserHandler(accountSvc, deps.S3Store, debug)

	r.Get("/health-check", healthH.Ping)

	// Public credential lifecycle endpoints.
	r.With(sensitiveRL.Limit).Post("/signup", authH.Signup)
	r.With(sensitiveRL.Limit).Post("/verify-otp", authH.VerifyOTP)
	r.With(sensitiveRL.Limit).Post("/login", authH.Login)
	r.With(sensitiveRL.Limit).Post("/password-reset/otp/resend", authH.RequestOTP)
	r.With(sensitiveRL.Limit).Post("/password-reset", authH.ResetPassword)
	r.Get("/logout", authH.Logout)

	// Authenticated profile endpoints.
	r.Group(func(r chi.Router) {
		r.Use(appmiddleware.Auth(deps.JWTProvider))

		r.Get("/user/{id}", userH.Get)
		r.Patch("/user/update/{id}", userH.Update)
	})

	return r
}
