package wallets

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/api/middleware"
	"github.com/greenmile-app/greenmile-backend/api/responses"
	"github.com/greenmile-app/greenmile-backend/api/validators"
	internalwallets "github.com/greenmile-app/greenmile-backend/internal/wallets"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
	pkgerrors "github.com/greenmile-app/greenmile-backend/pkg/errors"
	"github.com/greenmile-app/greenmile-backend/pkg/logger"
	"github.com/greenmile-app/greenmile-backend/pkg/pagination"
)

type withdrawRequest struct {
	BankAccountID uuid.UUID `json:"bank_account_id" validate:"required"`
	AmountCents   int64     `json:"amount_cents" validate:"required,gt=0"`
}

type addBankAccountRequest struct {
	HolderName    string `json:"holder_name" validate:"required"`
	BankName      string `json:"bank_name" validate:"required"`
	AccountNumber string `json:"account_number" validate:"required,min=6"`
	RoutingNumber string `json:"routing_number" validate:"required"`
}

// Get returns the caller's wallet, creating it lazily on first touch.
func Get(svc internalwallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerType, err := ownerTypeFor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		wallet, err := svc.GetOrCreate(r.Context(), middleware.ActorIDFromContext(r.Context()), ownerType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toWalletView(wallet))
	}
}

// Transactions pages through the caller's ledger history.
func Transactions(svc internalwallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerType, err := ownerTypeFor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		wallet, err := svc.GetOrCreate(r.Context(), middleware.ActorIDFromContext(r.Context()), ownerType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters, err := parseEntryFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListEntries(r.Context(), wallet.ID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries := make([]entryView, 0, len(list.Entries))
		for i := range list.Entries {
			entries = append(entries, toEntryView(&list.Entries[i]))
		}
		responses.WriteSuccess(w, map[string]any{
			"entries":     entries,
			"next_cursor": list.NextCursor,
		})
	}
}

// Withdraw starts a payout to one of the caller's bank accounts.
func Withdraw(svc internalwallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerType, err := ownerTypeFor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req withdrawRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.RequestPayout(r.Context(), internalwallets.RequestPayoutInput{
			OwnerID:       middleware.ActorIDFromContext(r.Context()),
			OwnerType:     ownerType,
			BankAccountID: req.BankAccountID,
			AmountCents:   req.AmountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toPayoutView(payout))
	}
}

// AddBankAccount registers a payout destination for the caller.
func AddBankAccount(svc internalwallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerType, err := ownerTypeFor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req addBankAccountRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.AddBankAccount(r.Context(), internalwallets.AddBankAccountInput{
			OwnerID:       middleware.ActorIDFromContext(r.Context()),
			OwnerType:     ownerType,
			HolderName:    req.HolderName,
			BankName:      req.BankName,
			AccountNumber: req.AccountNumber,
			RoutingNumber: req.RoutingNumber,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{"id": account.ID})
	}
}

// ListBankAccounts returns the caller's payout destinations with masked
// account numbers.
func ListBankAccounts(svc internalwallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerType, err := ownerTypeFor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views, err := svc.ListBankAccounts(r.Context(), middleware.ActorIDFromContext(r.Context()), ownerType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"bank_accounts": views})
	}
}

// RemoveBankAccount deletes one of the caller's payout destinations.
func RemoveBankAccount(svc internalwallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid bank account id"))
			return
		}
		if err := svc.RemoveBankAccount(r.Context(), middleware.ActorIDFromContext(r.Context()), accountID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// ownerTypeFor maps the authenticated role onto the wallet owner dimension.
func ownerTypeFor(r *http.Request) (enums.OwnerType, error) {
	switch middleware.RoleFromContext(r.Context()) {
	case enums.ActorRoleCustomer:
		return enums.OwnerTypeCustomer, nil
	case enums.ActorRoleVendor:
		return enums.OwnerTypeVendor, nil
	case enums.ActorRoleRider:
		return enums.OwnerTypeRider, nil
	case enums.ActorRolePlatform:
		return enums.OwnerTypePlatform, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "role has no wallet")
	}
}

func parseEntryFilters(r *http.Request) (internalwallets.EntryFilters, error) {
	var filters internalwallets.EntryFilters
	if raw := strings.TrimSpace(r.URL.Query().Get("entry_type")); raw != "" {
		entryType, err := enums.ParseLedgerEntryType(raw)
		if err != nil {
			return filters, pkgerrors.New(pkgerrors.CodeValidation, "unknown entry type filter")
		}
		filters.EntryType = &entryType
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("balance_kind")); raw != "" {
		kind, err := enums.ParseBalanceKind(raw)
		if err != nil {
			return filters, pkgerrors.New(pkgerrors.CodeValidation, "unknown balance kind filter")
		}
		filters.BalanceKind = &kind
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("date_from")); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, pkgerrors.New(pkgerrors.CodeValidation, "date_from must be RFC3339")
		}
		filters.DateFrom = &from
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("date_to")); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, pkgerrors.New(pkgerrors.CodeValidation, "date_to must be RFC3339")
		}
		filters.DateTo = &to
	}
	return filters, nil
}
