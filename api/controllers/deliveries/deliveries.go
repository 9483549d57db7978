package deliveries

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/api/middleware"
	"github.com/greenmile-app/greenmile-backend/api/responses"
	"github.com/greenmile-app/greenmile-backend/api/validators"
	"github.com/greenmile-app/greenmile-backend/internal/dispatch"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
	pkgerrors "github.com/greenmile-app/greenmile-backend/pkg/errors"
	"github.com/greenmile-app/greenmile-backend/pkg/logger"
	"github.com/greenmile-app/greenmile-backend/pkg/pagination"
)

type advanceRequest struct {
	Target enums.DeliveryStatus `json:"target" validate:"required"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// ListAvailable advertises open jobs to riders, newest first.
func ListAvailable(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := parsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListAvailable(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// ListMine returns the calling rider's delivery history.
func ListMine(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := parsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, cursor, err := svc.ListRiderDeliveries(r.Context(), middleware.ActorIDFromContext(r.Context()), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views := make([]deliveryView, 0, len(rows))
		for i := range rows {
			views = append(views, toDeliveryView(&rows[i]))
		}
		responses.WriteSuccess(w, map[string]any{
			"deliveries":  views,
			"next_cursor": cursor,
		})
	}
}

// Accept claims an available delivery for the calling rider. Losing the race
// is reported as an outcome, not an error.
func Accept(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deliveryID, err := parseDeliveryID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		vehicle := middleware.VehicleClassFromContext(r.Context())
		if vehicle == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "rider has no registered vehicle class"))
			return
		}

		result, err := svc.Accept(r.Context(), dispatch.AcceptInput{
			DeliveryID:   deliveryID,
			RiderID:      middleware.ActorIDFromContext(r.Context()),
			VehicleClass: *vehicle,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view := acceptView{Outcome: result.Outcome}
		if result.Delivery != nil {
			delivery := toDeliveryView(result.Delivery)
			view.Delivery = &delivery
		}
		responses.WriteSuccess(w, view)
	}
}

// Advance moves the rider's delivery one step along the progression.
func Advance(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deliveryID, err := parseDeliveryID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req advanceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		delivery, err := svc.Advance(r.Context(), dispatch.AdvanceInput{
			DeliveryID: deliveryID,
			RiderID:    middleware.ActorIDFromContext(r.Context()),
			Target:     req.Target,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toDeliveryView(delivery))
	}
}

// Cancel aborts an in-flight delivery. Riders may only cancel their own;
// the platform may cancel any.
func Cancel(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deliveryID, err := parseDeliveryID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req cancelRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if middleware.RoleFromContext(r.Context()) == enums.ActorRoleRider {
			delivery, err := svc.Get(r.Context(), deliveryID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			actorID := middleware.ActorIDFromContext(r.Context())
			if delivery.RiderID == nil || *delivery.RiderID != actorID {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "delivery belongs to another rider"))
				return
			}
		}

		result, err := svc.Cancel(r.Context(), dispatch.CancelInput{
			DeliveryID: deliveryID,
			Reason:     req.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toCancelView(result))
	}
}

type acceptView struct {
	Outcome  dispatch.AcceptOutcome `json:"outcome"`
	Delivery *deliveryView          `json:"delivery,omitempty"`
}

type cancelView struct {
	Cancelled       deliveryView  `json:"cancelled"`
	Republished     *deliveryView `json:"republished,omitempty"`
	CompensationDue bool          `json:"compensation_due"`
}

func toCancelView(result *dispatch.CancelResult) cancelView {
	view := cancelView{
		Cancelled:       toDeliveryView(result.Cancelled),
		CompensationDue: result.CompensationDue,
	}
	if result.Republished != nil {
		republished := toDeliveryView(result.Republished)
		view.Republished = &republished
	}
	return view
}

func parseDeliveryID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "deliveryID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid delivery id")
	}
	return id, nil
}

func parsePageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}
