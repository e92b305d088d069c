package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/config"
	adjsvc "github.com/ivankudzin/creditpay/internal/services/adjustments"
	authsvc "github.com/ivankudzin/creditpay/internal/services/auth"
	"github.com/ivankudzin/creditpay/internal/services/catalog"
	"github.com/ivankudzin/creditpay/internal/services/notifyauth"
	paymentsvc "github.com/ivankudzin/creditpay/internal/services/payments"
	pollingsvc "github.com/ivankudzin/creditpay/internal/services/polling"
	"github.com/ivankudzin/creditpay/internal/services/reconcile"
	"github.com/ivankudzin/creditpay/internal/transport/http/handlers"
)

type Dependencies struct {
	AuthService        *authsvc.Service
	PaymentService     *paymentsvc.Service
	PollingService     *pollingsvc.Service
	AdjustmentService  *adjsvc.Service
	Catalog            *catalog.Catalog
	Engine             *reconcile.Engine
	NotificationVerify *notifyauth.Verifier
	Alerter            alerter
	Logger             *zap.Logger
	Config             config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	paymentHandler := handlers.NewPaymentHandler(deps.PaymentService, deps.PollingService)
	notificationHandler := handlers.NewNotificationHandler(deps.Engine, deps.Logger)
	balanceHandler := handlers.NewBalanceHandler(deps.AdjustmentService)
	productHandler := handlers.NewProductHandler(deps.Catalog)

	authMW := AuthMiddleware(deps.AuthService, deps.Logger)
	adminRoleMW := RequireRole(deps.Config.Auth.AdminRoles...)
	notifyMW := NotificationAuthMiddleware(deps.NotificationVerify, deps.Alerter, deps.Logger)

	r.Get("/healthz", healthHandler.Get)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/products", productHandler.List)
		r.With(notifyMW).Post("/payments/notifications", notificationHandler.Handle)
		r.With(authMW).Post("/payments", paymentHandler.Create)
		r.With(authMW).Get("/payments/status", paymentHandler.Status)
		r.With(authMW).Get("/balance", balanceHandler.Get)

		r.Route("/admin", func(r chi.Router) {
			r.Use(authMW, adminRoleMW)
			r.Post("/balance/adjust", balanceHandler.Adjust)
			r.Get("/users/{id}/balance", balanceHandler.AdminGet)
		})
	})
}
