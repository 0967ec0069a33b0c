package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openvault/vaultd/internal/domain"
)

// AccountService defines what the account handler needs from the service
// layer. Declared locally so the handler package does not depend on the
// concrete implementation.
type AccountService interface {
	CreateAccount(ctx context.Context, requester common.Address) (domain.AccountRecord, error)
	Lookup(ctx context.Context, requester common.Address) (domain.AccountRecord, error)
	Balances(ctx context.Context, handle common.Address) (map[domain.Asset]*big.Int, error)
	RunStrategy(ctx context.Context, handle common.Address, amount *big.Int) error
	Claim(ctx context.Context, handle common.Address) error
	Withdraw(ctx context.Context, handle common.Address, asset domain.Asset, amount *big.Int) error
	NextNonce(ctx context.Context, handle common.Address) (uint64, error)
}

// EventLister provides read access to the event log for the API.
type EventLister interface {
	ListByAccount(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.Event, error)
}

// AccountHandler serves the account lifecycle endpoints.
type AccountHandler struct {
	svc    AccountService
	events EventLister // nil when no event store is configured
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(svc AccountService, events EventLister, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, events: events, logger: logger}
}

type accountResponse struct {
	Handle       string `json:"handle"`
	Requester    string `json:"requester"`
	Owner        string `json:"owner"`
	FeeRecipient string `json:"fee_recipient"`
	FeeRateBps   uint64 `json:"fee_rate_bps"`
	CreatedAt    string `json:"created_at"`
}

func toAccountResponse(rec domain.AccountRecord) accountResponse {
	return accountResponse{
		Handle:       rec.Handle.Hex(),
		Requester:    rec.Requester.Hex(),
		Owner:        rec.Owner.Hex(),
		FeeRecipient: rec.FeeRecipient.Hex(),
		FeeRateBps:   rec.FeeRateBps,
		CreatedAt:    rec.CreatedAt.Format(timeFormat),
	}
}

// parseAddress validates a 0x-prefixed 20-byte hex address.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseAmount parses a positive decimal amount.
func parseAmount(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() <= 0 {
		return nil, false
	}
	return n, true
}

// CreateAccount provisions an account for the requester.
// POST /api/accounts {"requester": "0x..."}
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requester string `json:"requester"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	requester, ok := parseAddress(req.Requester)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid requester address")
		return
	}

	rec, err := h.svc.CreateAccount(r.Context(), requester)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "account already exists for requester")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create account failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(rec))
}

// GetAccount returns the account for a handle or requester address.
// GET /api/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(pathParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	// The id may be either the requester or the derived handle.
	rec, err := h.svc.Lookup(r.Context(), addr)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "failed to look up account")
			return
		}
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	balances, err := h.svc.Balances(r.Context(), rec.Handle)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: balances failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read balances")
		return
	}
	nonce, err := h.svc.NextNonce(r.Context(), rec.Handle)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read nonce")
		return
	}

	balanceStrs := make(map[string]string, len(balances))
	for asset, amount := range balances {
		balanceStrs[string(asset)] = amount.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":    toAccountResponse(rec),
		"balances":   balanceStrs,
		"next_nonce": nonce,
	})
}

// RunStrategy funds the default engine from the account's balance.
// POST /api/accounts/{id}/strategy {"amount": "1000"}
func (h *AccountHandler) RunStrategy(w http.ResponseWriter, r *http.Request) {
	handle, ok := parseAddress(pathParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	if err := h.svc.RunStrategy(r.Context(), handle, amount); err != nil {
		h.writeOperationError(w, r, "run strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

// Claim unwinds the account's position to its owner.
// POST /api/accounts/{id}/claim
func (h *AccountHandler) Claim(w http.ResponseWriter, r *http.Request) {
	handle, ok := parseAddress(pathParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	if err := h.svc.Claim(r.Context(), handle); err != nil {
		h.writeOperationError(w, r, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}

// Withdraw moves assets from the account to its owner.
// POST /api/accounts/{id}/withdraw {"asset": "USDC", "amount": "100"}
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	handle, ok := parseAddress(pathParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	var req struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	if req.Asset == "" {
		writeError(w, http.StatusBadRequest, "asset is required")
		return
	}

	if err := h.svc.Withdraw(r.Context(), handle, domain.Asset(req.Asset), amount); err != nil {
		h.writeOperationError(w, r, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

// ListEvents returns the account's event log.
// GET /api/accounts/{id}/events?limit=50&offset=0
func (h *AccountHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotImplemented, "event log not configured")
		return
	}
	handle, ok := parseAddress(pathParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	opts := parseListOpts(r)

	events, err := h.events.ListByAccount(r.Context(), handle, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		out = append(out, map[string]any{
			"id":         ev.ID,
			"type":       string(ev.Type),
			"account":    ev.Account.Hex(),
			"attributes": ev.Attributes,
			"created_at": ev.CreatedAt.Format(timeFormat),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": out,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// writeOperationError maps domain failures to HTTP statuses.
func (h *AccountHandler) writeOperationError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, domain.ErrZeroAmount):
		writeError(w, http.StatusBadRequest, "amount must be positive")
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, "insufficient balance")
	case errors.Is(err, domain.ErrSlippageExceeded):
		writeError(w, http.StatusUnprocessableEntity, "swap output below minimum")
	case errors.Is(err, domain.ErrReentrancy):
		writeError(w, http.StatusConflict, "account busy, retry")
	case errors.Is(err, domain.ErrNoTarget):
		writeError(w, http.StatusUnprocessableEntity, "no strategy target configured")
	default:
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}
