package webhooks

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/api/responses"
	"github.com/greenmile-app/greenmile-backend/api/validators"
	internalwallets "github.com/greenmile-app/greenmile-backend/internal/wallets"
	pkgerrors "github.com/greenmile-app/greenmile-backend/pkg/errors"
	"github.com/greenmile-app/greenmile-backend/pkg/logger"
)

const (
	payoutStatusCompleted = "completed"
	payoutStatusFailed    = "failed"
)

type payoutWebhookRequest struct {
	PayoutID uuid.UUID `json:"payout_id" validate:"required"`
	Status   string    `json:"status" validate:"required,oneof=completed failed"`
	Reason   string    `json:"reason"`
}

// Payout applies a payout provider callback: a completion releases the
// reservation, a failure refunds it. Both settle idempotently on replay.
func Payout(svc internalwallets.Service, signingSecret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallets service unavailable"))
			return
		}
		if err := verifySignature(r, signingSecret); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req payoutWebhookRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var err error
		switch req.Status {
		case payoutStatusCompleted:
			err = svc.CompletePayout(ctx, req.PayoutID)
		case payoutStatusFailed:
			err = svc.FailPayout(ctx, req.PayoutID, req.Reason)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}
