package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cbodonnell/fomo/pkg/api/handlers"
	"github.com/cbodonnell/fomo/pkg/api/middleware"
	authproviders "github.com/cbodonnell/fomo/pkg/auth/providers"
	"github.com/cbodonnell/fomo/pkg/log"
	"github.com/cbodonnell/fomo/pkg/metrics"
	"github.com/cbodonnell/fomo/pkg/repositories"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port         int
	TLS          *TLSConfig
	AuthProvider authproviders.AuthProvider
	// OracleToken guards the oracle endpoints
	OracleToken string
	Service     handlers.GameService
	Repository  repositories.Repository
	Metrics     *metrics.Metrics
	// Signals serves the live signal stream
	Signals        http.Handler
	AllowedOrigins []string
}

// NewRouter builds the API routes.
func NewRouter(opts NewAPIServerOptions) http.Handler {
	authMiddleware := middleware.NewAuthMiddleware(opts.AuthProvider)
	oracleMiddleware := middleware.NewOracleMiddleware(opts.OracleToken)

	r := mux.NewRouter()

	r.HandleFunc("/game", handlers.HandleGetGame(opts.Service)).Methods(http.MethodGet)
	r.Handle("/game/target", authMiddleware(handlers.HandleSetTarget(opts.Service))).Methods(http.MethodPost)
	r.Handle("/game/deposits", authMiddleware(handlers.HandleDeposit(opts.Service))).Methods(http.MethodPost)
	r.Handle("/game/reveal", authMiddleware(handlers.HandleRevealTarget(opts.Service))).Methods(http.MethodPost)
	r.HandleFunc("/game/deposits/{playerID}", handlers.HandleGetDeposit(opts.Service)).Methods(http.MethodGet)

	r.HandleFunc("/games/{gameID}", handlers.HandleGetSavedGame(opts.Repository)).Methods(http.MethodGet)
	r.HandleFunc("/signals", handlers.HandleListSignals(opts.Service, opts.Repository)).Methods(http.MethodGet)
	if opts.Signals != nil {
		r.Handle("/signals/ws", opts.Signals).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		r.HandleFunc("/metrics", handlers.HandleMetrics(opts.Metrics)).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", handlers.HandleHealth(opts.Service)).Methods(http.MethodGet)

	oracle := r.PathPrefix("/oracle").Subrouter()
	oracle.Use(mux.MiddlewareFunc(oracleMiddleware))
	oracle.HandleFunc("/callbacks", handlers.HandleOracleCallback(opts.Service)).Methods(http.MethodPost)
	oracle.HandleFunc("/requests", handlers.HandleListRequests(opts.Service)).Methods(http.MethodGet)
	oracle.HandleFunc("/requests/{requestID}", handlers.HandleInvalidateRequest(opts.Service)).Methods(http.MethodDelete)

	allowedOrigins := opts.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

// NewAPIServer creates a new http.Server for handling API requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// Start starts the APIServer
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
