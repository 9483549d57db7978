package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

type contextKey string

const (
	ctxActorID      contextKey = "actor_id"
	ctxRole         contextKey = "actor_role"
	ctxVehicleClass contextKey = "vehicle_class"
)

func ActorIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxActorID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.ActorRole); ok {
		return v
	}
	return ""
}

func VehicleClassFromContext(ctx context.Context) *enums.VehicleClass {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxVehicleClass).(enums.VehicleClass); ok {
		return &v
	}
	return nil
}

// WithActor seeds the context with actor identity, primarily for handler tests.
func WithActor(ctx context.Context, actorID uuid.UUID, role enums.ActorRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxActorID, actorID)
	return context.WithValue(ctx, ctxRole, role)
}

// WithVehicleClass injects the rider's declared vehicle into the context.
func WithVehicleClass(ctx context.Context, class enums.VehicleClass) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxVehicleClass, class)
}
