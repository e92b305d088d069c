package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	adjsvc "github.com/ivankudzin/creditpay/internal/services/adjustments"
	authsvc "github.com/ivankudzin/creditpay/internal/services/auth"
	"github.com/ivankudzin/creditpay/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/creditpay/internal/transport/http/errors"
)

type BalanceHandler struct {
	adjustments *adjsvc.Service
}

func NewBalanceHandler(adjustments *adjsvc.Service) *BalanceHandler {
	return &BalanceHandler{adjustments: adjustments}
}

func (h *BalanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, r, "UNAUTHORIZED", "authentication required")
		return
	}
	h.writeBalance(w, r, identity.UserID)
}

func (h *BalanceHandler) AdminGet(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "id")), 10, 64)
	if err != nil || userID <= 0 {
		writeBadRequest(w, r, "VALIDATION_ERROR", "invalid user id")
		return
	}
	h.writeBalance(w, r, userID)
}

func (h *BalanceHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, r, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.adjustments == nil {
		writeInternal(w, r, "ADJUSTMENTS_SERVICE_UNAVAILABLE", "adjustments service is unavailable")
		return
	}

	var req dto.AdjustBalanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "VALIDATION_ERROR", "invalid request body")
		return
	}

	adjustment, err := h.adjustments.Adjust(r.Context(), adjsvc.AdjustInput{
		UserID: req.UserID,
		Delta:  req.Delta,
		Actor:  identity.Actor(),
		Reason: req.Reason,
	})
	if err != nil {
		var negative *adjsvc.WouldGoNegativeError
		switch {
		case errors.As(err, &negative):
			httperrors.Write(w, http.StatusConflict, dto.WouldGoNegativeResponse{
				Code:    "WOULD_GO_NEGATIVE",
				Message: "adjustment would make the balance negative",
				Current: negative.Current,
				Delta:   negative.Delta,
			})
		case errors.Is(err, adjsvc.ErrInvalidAdjustment):
			writeBadRequest(w, r, "INVALID_ADJUSTMENT", err.Error())
		default:
			writeInternal(w, r, "INTERNAL_ERROR", "failed to adjust balance")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.AdjustBalanceResponse{
		AdjustmentID: adjustment.ID,
		UserID:       adjustment.UserID,
		Delta:        adjustment.Delta,
		NewBalance:   adjustment.BalanceAfter,
		Actor:        adjustment.Actor,
	})
}

func (h *BalanceHandler) writeBalance(w http.ResponseWriter, r *http.Request, userID int64) {
	if h.adjustments == nil {
		writeInternal(w, r, "ADJUSTMENTS_SERVICE_UNAVAILABLE", "balance service is unavailable")
		return
	}
	balance, err := h.adjustments.Balance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, adjsvc.ErrInvalidAdjustment) {
			writeBadRequest(w, r, "VALIDATION_ERROR", "invalid user id")
			return
		}
		writeInternal(w, r, "INTERNAL_ERROR", "failed to load balance")
		return
	}
	httperrors.Write(w, http.StatusOK, dto.BalanceResponse{
		UserID:  balance.UserID,
		Credits: balance.Credits,
	})
}
