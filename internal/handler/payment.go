package handler

import (
	"context"
	"net/http"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/service"
	"github.com/google/uuid"
)

// PaymentHandler handles payout, recharge and reservation payment endpoints.
type PaymentHandler struct {
	payouts      *service.PayoutService
	recharges    *service.RechargeService
	reservations *service.ReservationService
	wallet       *service.WalletService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(
	payouts *service.PayoutService,
	recharges *service.RechargeService,
	reservations *service.ReservationService,
	wallet *service.WalletService,
) *PaymentHandler {
	return &PaymentHandler{payouts: payouts, recharges: recharges, reservations: reservations, wallet: wallet}
}

type payoutRequest struct {
	Amount         int64  `json:"amount" validate:"gt=0"`
	Currency       string `json:"currency" validate:"required,len=3,alpha"`
	Method         string `json:"method" validate:"omitempty,oneof=standard instant"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=128"`
}

type payoutResponse struct {
	Payout         *domain.Payout `json:"payout"`
	IdempotencyKey string         `json:"idempotency_key"`
	Idempotent     bool           `json:"idempotent"`
}

// RequestPayout handles POST /api/payment/wallet-payout.
func (h *PaymentHandler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req payoutRequest
	if err := decodeRequest(r, &req); err != nil {
		RespondError(w, err)
		return
	}

	res, err := h.payouts.RequestPayout(r.Context(), domain.RequestPayoutParams{
		UserID:         userID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         domain.PayoutMethod(req.Method),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	RespondJSON(w, status, payoutResponse{Payout: res.Payout, IdempotencyKey: req.IdempotencyKey, Idempotent: res.Idempotent})
}

// ListPayouts handles GET /api/payment/wallet-payouts.
func (h *PaymentHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	limit, offset := pageParams(r)
	payouts, err := h.wallet.Payouts(r.Context(), userID, limit, offset)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, payouts)
}

// GetPayout handles GET /api/payment/wallet-payouts/{id}.
func (h *PaymentHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	payout, err := h.payouts.Get(r.Context(), userID, id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, payout)
}

type rechargeRequest struct {
	Amount         int64  `json:"amount" validate:"gt=0"`
	Currency       string `json:"currency" validate:"required,len=3,alpha"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=128"`
	SuccessURL     string `json:"success_url" validate:"omitempty,url"`
	CancelURL      string `json:"cancel_url" validate:"omitempty,url"`
}

// InitiateRecharge handles POST /api/payment/wallet-recharge.
func (h *PaymentHandler) InitiateRecharge(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req rechargeRequest
	if err := decodeRequest(r, &req); err != nil {
		RespondError(w, err)
		return
	}

	out, err := h.recharges.Initiate(r.Context(), domain.InitiateRechargeParams{
		UserID:         userID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	status := http.StatusCreated
	if out.Idempotent {
		status = http.StatusOK
	}
	RespondJSON(w, status, out)
}

// ListRecharges handles GET /api/payment/wallet-recharges.
func (h *PaymentHandler) ListRecharges(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	limit, offset := pageParams(r)
	recharges, err := h.wallet.Recharges(r.Context(), userID, limit, offset)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, recharges)
}

// ReservationCheckout handles POST /api/payment/reservations/{id}/checkout.
func (h *PaymentHandler) ReservationCheckout(w http.ResponseWriter, r *http.Request) {
	h.reservationPayment(w, r, h.reservations.Checkout)
}

// AuthorizeReservation handles POST /api/payment/reservations/{id}/authorize.
func (h *PaymentHandler) AuthorizeReservation(w http.ResponseWriter, r *http.Request) {
	h.reservationPayment(w, r, h.reservations.Authorize)
}

// PayReservationWithWallet handles POST /api/payment/reservations/{id}/pay-with-wallet.
func (h *PaymentHandler) PayReservationWithWallet(w http.ResponseWriter, r *http.Request) {
	h.reservationPayment(w, r, h.reservations.PayWithWallet)
}

type reservationPayFunc func(ctx context.Context, userID, reservationID uuid.UUID) (*domain.ReservationPayment, error)

func (h *PaymentHandler) reservationPayment(w http.ResponseWriter, r *http.Request, pay reservationPayFunc) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	out, err := pay(r.Context(), userID, id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, out)
}
