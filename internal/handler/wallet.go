package handler

import (
	"net/http"
	"strconv"

	"github.com/carpoolhub/platform/internal/auth"
	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// WalletHandler handles wallet balance and transaction endpoints.
type WalletHandler struct {
	wallet *service.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(wallet *service.WalletService) *WalletHandler {
	return &WalletHandler{wallet: wallet}
}

// GetBalance handles GET /api/payment/wallet-balance.
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	balances, err := h.wallet.Balances(r.Context(), userID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, balances)
}

// GetTransactions handles GET /api/payment/wallet-transactions?limit&offset.
func (h *WalletHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	limit, offset := pageParams(r)

	page, err := h.wallet.Transactions(r.Context(), userID, limit, offset)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, page)
}

// pageParams reads limit and offset; malformed values fall back to the
// service defaults.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil {
		offset = n
	}
	return limit, offset
}

// userIDFromContext returns the authenticated user id.
func userIDFromContext(r *http.Request) (uuid.UUID, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, domain.ErrUnauthorized("no authenticated user")
	}
	return id, nil
}

// uuidParam parses a path parameter as a uuid.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, domain.ErrValidation(name + " must be a uuid")
	}
	return id, nil
}
