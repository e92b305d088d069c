package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/domain/enums"
	"github.com/ivankudzin/creditpay/internal/domain/rules"
	"github.com/ivankudzin/creditpay/internal/services/reconcile"
	"github.com/ivankudzin/creditpay/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/creditpay/internal/transport/http/errors"
)

const maxNotificationBytes = 64 << 10

// NotificationHandler runs after the digest middleware. Once a request gets
// here it is answered 200 unless storage failed, so the provider does not
// keep redelivering events that will never apply.
type NotificationHandler struct {
	engine *reconcile.Engine
	log    *zap.Logger
}

func NewNotificationHandler(engine *reconcile.Engine, log *zap.Logger) *NotificationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationHandler{
		engine: engine,
		log:    log,
	}
}

func (h *NotificationHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeInternal(w, r, "RECONCILE_UNAVAILABLE", "reconciliation is unavailable")
		return
	}

	var req dto.NotificationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNotificationBytes)).Decode(&req); err != nil {
		h.log.Warn("notification body rejected", zap.Error(err))
		h.ack(w)
		return
	}
	req = req.Normalize()

	status, ok := enums.ParsePaymentStatus(req.PaymentStatus)
	if !ok || req.ExternalID == "" {
		h.log.Info("notification ignored",
			zap.String("event_type", req.EventType),
			zap.String("payment_status", req.PaymentStatus),
			zap.String("external_id", req.ExternalID),
		)
		h.ack(w)
		return
	}

	conf := reconcile.Confirmation{
		ExternalID: req.ExternalID,
		Status:     status,
		Source:     enums.ConfirmationSourceNotification,
	}
	if req.Amount != nil {
		amount, err := rules.ParseMinor(req.Amount.Value)
		if err != nil {
			h.log.Warn("notification amount unreadable",
				zap.String("external_id", req.ExternalID),
				zap.String("value", req.Amount.Value),
				zap.Error(err),
			)
			h.ack(w)
			return
		}
		conf.AmountMinor = amount
		conf.Currency = req.Amount.Currency
	} else if status == enums.PaymentStatusSucceeded {
		h.log.Warn("success notification without amount ignored", zap.String("external_id", req.ExternalID))
		h.ack(w)
		return
	}

	result, err := h.engine.Reconcile(r.Context(), conf)
	if err != nil {
		if errors.Is(err, reconcile.ErrPersistence) {
			h.log.Error("notification not applied", zap.String("external_id", req.ExternalID), zap.Error(err))
			writeInternal(w, r, "INTERNAL_ERROR", "notification could not be stored")
			return
		}
		h.log.Warn("notification not applied", zap.String("external_id", req.ExternalID), zap.Error(err))
		h.ack(w)
		return
	}

	h.log.Info("notification processed",
		zap.String("external_id", req.ExternalID),
		zap.String("status", string(result.Status)),
		zap.Bool("already_applied", result.AlreadyApplied),
	)
	h.ack(w)
}

func (h *NotificationHandler) ack(w http.ResponseWriter) {
	httperrors.Write(w, http.StatusOK, dto.NotificationResponse{OK: true})
}
