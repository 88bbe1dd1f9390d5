package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/handler/appointment"
	"github.com/jwalitptl/clinic-api/internal/handler/auth"
	"github.com/jwalitptl/clinic-api/internal/handler/patient"
	"github.com/jwalitptl/clinic-api/internal/identity"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/internal/repository/postgres"
	"github.com/jwalitptl/clinic-api/internal/router"
	appointmentService "github.com/jwalitptl/clinic-api/internal/service/appointment"
	authService "github.com/jwalitptl/clinic-api/internal/service/auth"
	patientService "github.com/jwalitptl/clinic-api/internal/service/patient"
	jwtauth "github.com/jwalitptl/clinic-api/pkg/auth"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
	"github.com/jwalitptl/clinic-api/pkg/security"
)

type stores struct {
	pinger       repository.Pinger
	users        repository.UserRepository
	appointments repository.AppointmentRepository
	patients     repository.PatientRepository
	close        func()
}

func openStores(ctx context.Context, cfg config.DatabaseConfig) (*stores, error) {
	if cfg.Driver == "memory" {
		store := memory.NewStore()
		return &stores{
			pinger:       store,
			users:        memory.NewUserRepository(store),
			appointments: memory.NewAppointmentRepository(store),
			patients:     memory.NewPatientRepository(store),
			close:        func() {},
		}, nil
	}

	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.ApplySchema {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	base := postgres.NewBaseRepository(db, cfg.QueryTimeout)
	return &stores{
		pinger:       &base,
		users:        postgres.NewUserRepository(base),
		appointments: postgres.NewAppointmentRepository(base),
		patients:     postgres.NewPatientRepository(base),
		close:        func() { closeDB(db) },
	}, nil
}

func closeDB(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	l := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx := l.WithContext(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(cfg.Server.MetricsPrefix, reg)

	st, err := openStores(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer st.close()
	if cfg.Database.Driver == "memory" {
		log.Warn().Msg("using in-memory storage; data is lost on restart")
	}

	tokens, err := jwtauth.NewTokenManager(jwtauth.Config{
		Secret: []byte(cfg.JWT.Secret),
		Issuer: cfg.JWT.Issuer,
		TTL:    cfg.JWT.TTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise token manager")
	}

	verifier := identity.Disabled()
	if cfg.Google.Enabled {
		verifier = identity.NewGoogleVerifier(identity.GoogleConfig{
			ClientID: cfg.Google.ClientID,
			JWKSURL:  cfg.Google.JWKSURL,
			CacheTTL: cfg.Google.JWKSCacheTTL,
			Timeout:  cfg.Google.Timeout,
		}, nil)
	}

	policy := model.OverlapPolicy{}
	if cfg.Scheduling.IgnoreTerminalStatuses {
		policy = model.TerminalStatusesIgnored()
		log.Warn().Msg("cancelled and completed appointments no longer block their slot")
	}

	authSvc := authService.NewService(st.users, tokens, security.NewBcryptHasher(cfg.Security.BcryptCost), verifier, m)
	appointmentSvc := appointmentService.NewService(st.appointments, policy, m)
	patientSvc := patientService.NewService(st.patients)

	seed, err := config.LoadAdminSeed()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid admin seed settings")
	}
	if err := authSvc.SeedAdmin(ctx, seed); err != nil {
		log.Fatal().Err(err).Msg("failed to seed default admin")
	}

	r, err := router.NewRouter(
		middleware.NewAuthMiddleware(authSvc),
		auth.NewHandler(authSvc),
		appointment.NewHandler(appointmentSvc),
		patient.NewHandler(patientSvc),
		handler.NewHandler(st.pinger, reg),
		router.RouterConfig{
			Mode:           cfg.Server.Mode,
			RequestTimeout: cfg.Server.Timeout,
			AuthRateLimit:  rate.Limit(cfg.RateLimit.AuthRPS),
			AuthRateBurst:  cfg.RateLimit.AuthBurst,
			CORSConfig:     middleware.DefaultCORSConfig(cfg.CORS.AllowOrigins...),
			MetricsPrefix:  cfg.Server.MetricsPrefix,
			Registerer:     reg,
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build router")
	}
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", handler.Version).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
