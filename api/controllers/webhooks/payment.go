package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/api/responses"
	"github.com/greenmile-app/greenmile-backend/api/validators"
	internalorders "github.com/greenmile-app/greenmile-backend/internal/orders"
	pkgerrors "github.com/greenmile-app/greenmile-backend/pkg/errors"
	"github.com/greenmile-app/greenmile-backend/pkg/logger"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body, keyed by the
// secret shared with the provider.
const SignatureHeader = "X-GreenMile-Signature"

const (
	paymentStatusPaid   = "paid"
	paymentStatusFailed = "failed"
)

type paymentWebhookRequest struct {
	OrderID    uuid.UUID `json:"order_id" validate:"required"`
	Status     string    `json:"status" validate:"required,oneof=paid failed"`
	PaymentRef string    `json:"payment_ref"`
	Reason     string    `json:"reason"`
}

// Payment applies a payment provider callback to the order lifecycle. The
// underlying operations are replay safe, so a redelivered webhook is a no-op.
func Payment(svc internalorders.Service, signingSecret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		if err := verifySignature(r, signingSecret); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req paymentWebhookRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var err error
		switch req.Status {
		case paymentStatusPaid:
			if req.PaymentRef == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment_ref required for paid status"))
				return
			}
			err = svc.ConfirmPayment(ctx, req.OrderID, req.PaymentRef)
		case paymentStatusFailed:
			err = svc.FailPayment(ctx, req.OrderID, req.Reason)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// verifySignature checks the HMAC of the raw body and restores r.Body so the
// handler can decode it afterwards.
func verifySignature(r *http.Request, secret string) error {
	if secret == "" {
		return pkgerrors.New(pkgerrors.CodeInternal, "webhook signing secret not configured")
	}
	provided := strings.TrimSpace(r.Header.Get(SignatureHeader))
	if provided == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature mismatch")
	}
	return nil
}

// Sign computes the signature a caller must send for the given payload. Test
// helpers and the provider simulator share it.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
