package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/app/platform"
	"github.com/ivankudzin/creditpay/internal/config"
	redrepo "github.com/ivankudzin/creditpay/internal/repo/redis"
	adjsvc "github.com/ivankudzin/creditpay/internal/services/adjustments"
	authsvc "github.com/ivankudzin/creditpay/internal/services/auth"
	"github.com/ivankudzin/creditpay/internal/services/notifyauth"
	paymentsvc "github.com/ivankudzin/creditpay/internal/services/payments"
	pollingsvc "github.com/ivankudzin/creditpay/internal/services/polling"
	ratesvc "github.com/ivankudzin/creditpay/internal/services/rate"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	platform   *platform.Platform
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	p, err := platform.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, 0)
	authService := authsvc.NewService(jwtManager)

	paymentService := paymentsvc.NewService(paymentsvc.Dependencies{
		Payments:  p.Payments,
		Gateway:   p.Gateway,
		Catalog:   p.Catalog,
		ReturnURL: cfg.Gateway.ReturnURL,
		Logger:    log,
	})

	pollingDeps := pollingsvc.Dependencies{
		Payments:   p.Payments,
		Gateway:    p.Gateway,
		Reconciler: p.Engine,
		Catalog:    p.Catalog,
		Interval:   cfg.Polling.Interval,
		MaxWait:    cfg.Polling.MaxWait,
		Logger:     log,
	}
	if p.Redis != nil {
		pollingDeps.Throttle = ratesvc.NewLimiter(
			redrepo.NewRateRepo(p.Redis),
			cfg.Polling.ProviderLookupWindow,
			cfg.Polling.ProviderLookupsLimit,
		)
	}
	pollingService := pollingsvc.NewService(pollingDeps)

	adjustmentService := adjsvc.NewService(adjsvc.Dependencies{
		Balances:     p.Balances,
		Publisher:    p.Publisher,
		MaxMagnitude: cfg.Adjustments.MaxMagnitude,
		Logger:       log,
	})

	var nonces notifyauth.NonceStore
	if cfg.Notifications.ReplayGuard {
		nonces = redrepo.NewNonceRepo(p.Redis)
	}
	verifier := notifyauth.NewVerifier(notifyauth.Config{
		Secret:   cfg.Notifications.Secret,
		Identity: cfg.Notifications.Identity,
		Realm:    cfg.Notifications.Realm,
		NonceTTL: cfg.Notifications.NonceTTL,
	}, nonces)

	RegisterRoutes(r, Dependencies{
		AuthService:        authService,
		PaymentService:     paymentService,
		PollingService:     pollingService,
		AdjustmentService:  adjustmentService,
		Catalog:            p.Catalog,
		Engine:             p.Engine,
		NotificationVerify: verifier,
		Alerter:            p.Alerter,
		Logger:             log,
		Config:             cfg,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		platform:   p,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if err := a.platform.Close(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
