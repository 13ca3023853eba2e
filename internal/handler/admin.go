package handler

import (
	"net/http"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/service"
)

// AdminHandler handles wallet administration for operators.
type AdminHandler struct {
	wallet *service.WalletService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(wallet *service.WalletService) *AdminHandler {
	return &AdminHandler{wallet: wallet}
}

type accountStatusRequest struct {
	Currency string `json:"currency" validate:"required,len=3,alpha"`
	Status   string `json:"status" validate:"required,oneof=active blocked"`
}

// SetAccountStatus handles PATCH /api/admin/wallets/{userID}/status.
func (h *AdminHandler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userID")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req accountStatusRequest
	if err := decodeRequest(r, &req); err != nil {
		RespondError(w, err)
		return
	}

	acct, err := h.wallet.SetAccountStatus(r.Context(), userID, req.Currency, domain.AccountStatus(req.Status))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, acct)
}

type auditResponse struct {
	AccountID  string            `json:"account_id"`
	Balance    int64             `json:"balance"`
	Sum        int64             `json:"sum"`
	Movements  int               `json:"movements"`
	AllPassed  bool              `json:"all_passed"`
	Violations map[string]string `json:"violations,omitempty"`
}

// Audit handles GET /api/admin/wallets/{userID}/audit.
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userID")
	if err != nil {
		RespondError(w, err)
		return
	}
	results, err := h.wallet.Audit(r.Context(), userID)
	if err != nil {
		RespondError(w, err)
		return
	}

	out := make([]auditResponse, 0, len(results))
	for _, res := range results {
		item := auditResponse{
			AccountID: res.AccountID.String(),
			Balance:   res.Balance,
			Sum:       res.Sum,
			Movements: res.Movements,
			AllPassed: res.AllPassed,
		}
		for _, inv := range res.Invariants {
			if inv.Passed {
				continue
			}
			if item.Violations == nil {
				item.Violations = map[string]string{}
			}
			item.Violations[inv.Name] = inv.Detail
		}
		out = append(out, item)
	}
	RespondJSON(w, http.StatusOK, out)
}
