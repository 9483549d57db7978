package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	ActorID      uuid.UUID
	Role         enums.ActorRole
	VehicleClass *enums.VehicleClass
	JTI          string
}

// AccessTokenClaims represents the typed JWT issued to clients. Riders carry
// their registered vehicle class so dispatch can price eco bonuses.
type AccessTokenClaims struct {
	ActorID      uuid.UUID           `json:"actor_id"`
	Role         enums.ActorRole     `json:"role"`
	VehicleClass *enums.VehicleClass `json:"vehicle_class,omitempty"`
	jwt.RegisteredClaims
}
