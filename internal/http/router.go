package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MrJamesThe3rd/haven/internal/http/auth"
	"github.com/MrJamesThe3rd/haven/internal/http/listing"
	"github.com/MrJamesThe3rd/haven/internal/http/response"
	"github.com/MrJamesThe3rd/haven/internal/http/statement"
	"github.com/MrJamesThe3rd/haven/internal/http/wallet"
)

type Options struct {
	JWTSecret      []byte
	Timeout        time.Duration
	AllowedOrigins []string
}

func New(
	opts Options,
	listingsV1 *listing.Handler,
	walletV1 *wallet.Handler,
	statementV1 *statement.Handler,
) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	if opts.Timeout > 0 {
		router.Use(middleware.Timeout(opts.Timeout))
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(opts.JWTSecret))

		r.Route("/listings", func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			listingsV1.Routes(r)
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			walletV1.Routes(r)
		})

		r.Route("/statement", statementV1.Routes)
		r.Route("/ledger", walletV1.LedgerRoutes)
	})

	return router
}
