package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/basisbot/internal/domain"
	"github.com/alanyoungcy/basisbot/internal/ledger"
)

// LedgerSummarizer is implemented by the virtual ledger.
type LedgerSummarizer interface {
	Summary() ledger.Summary
}

// AccountHandler serves the equity and margin view the guardian sees.
type AccountHandler struct {
	account domain.AccountReader
	ledger  LedgerSummarizer
	logger  *slog.Logger
}

// NewAccountHandler creates an AccountHandler. l is nil in live mode.
func NewAccountHandler(account domain.AccountReader, l LedgerSummarizer, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{account: account, ledger: l, logger: logger}
}

// Get returns account value, margin used and usage, plus the ledger
// breakdown when simulated.
// GET /api/account
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.account.AccountState(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "account state failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "account state unavailable")
		return
	}
	resp := map[string]any{
		"account_value": st.AccountValue,
		"margin_used":   st.MarginUsed,
		"margin_usage":  st.MarginUsage(),
		"as_of":         st.AsOf,
	}
	if h.ledger != nil {
		resp["ledger"] = h.ledger.Summary()
	}
	writeJSON(w, http.StatusOK, resp)
}
