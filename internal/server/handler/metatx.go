package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/openvault/vaultd/internal/domain"
)

// MetaTxQueue accepts signed meta-transactions for asynchronous submission.
// Implemented by the relayer.
type MetaTxQueue interface {
	Enqueue(ctx context.Context, tx domain.SignedMetaTx) (string, error)
}

// MetaTxHandler accepts relayed meta-transactions. The endpoint needs no
// caller identity beyond transport auth: the owner's signature inside the
// payload is the authorization.
type MetaTxHandler struct {
	queue  MetaTxQueue
	logger *slog.Logger
}

// NewMetaTxHandler creates a MetaTxHandler.
func NewMetaTxHandler(queue MetaTxQueue, logger *slog.Logger) *MetaTxHandler {
	return &MetaTxHandler{queue: queue, logger: logger}
}

type metaTxRequest struct {
	Account string `json:"account"`
	Payload struct {
		Action   string `json:"action"`
		Engine   string `json:"engine,omitempty"`
		Amount   string `json:"amount,omitempty"`
		Asset    string `json:"asset,omitempty"`
		NewOwner string `json:"new_owner,omitempty"`
	} `json:"payload"`
	Nonce     uint64 `json:"nonce"`
	Deadline  int64  `json:"deadline"` // unix seconds
	Signature string `json:"signature"`
}

// Submit enqueues a signed meta-transaction.
// POST /api/metatx
func (h *MetaTxHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req metaTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, ok := parseAddress(req.Account)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}
	if req.Signature == "" {
		writeError(w, http.StatusBadRequest, "signature is required")
		return
	}
	if req.Deadline > 0 && time.Unix(req.Deadline, 0).Before(time.Now()) {
		writeError(w, http.StatusBadRequest, "deadline already passed")
		return
	}

	payload := domain.MetaTxPayload{
		Action: domain.MetaTxAction(req.Payload.Action),
		Asset:  domain.Asset(req.Payload.Asset),
	}
	switch payload.Action {
	case domain.ActionRunStrategy, domain.ActionClaim, domain.ActionTransferAsset, domain.ActionTransferOwnership:
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if req.Payload.Engine != "" {
		engine, ok := parseAddress(req.Payload.Engine)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid engine address")
			return
		}
		payload.Engine = engine
	}
	if req.Payload.Amount != "" {
		amount, ok := new(big.Int).SetString(req.Payload.Amount, 10)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		payload.Amount = amount
	}
	if req.Payload.NewOwner != "" {
		newOwner, ok := parseAddress(req.Payload.NewOwner)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid new owner address")
			return
		}
		payload.NewOwner = newOwner
	}

	tx := domain.SignedMetaTx{
		Account:   account,
		Payload:   payload,
		Nonce:     req.Nonce,
		Deadline:  time.Unix(req.Deadline, 0),
		Signature: req.Signature,
	}
	if req.Deadline == 0 {
		tx.Deadline = time.Time{}
	}

	id, err := h.queue.Enqueue(r.Context(), tx)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: metatx enqueue failed",
			slog.String("account", req.Account),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "relayer queue full")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"submission_id": id,
		"status":        "queued",
	})
}
