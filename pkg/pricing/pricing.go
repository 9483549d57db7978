package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/greenmile-app/greenmile-backend/pkg/config"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

// Carbon savings per km relative to a petrol van baseline, in grams.
const carbonSavedGramsPerKm = 180

// Calculator derives delivery fees, eco bonuses and platform cuts. All
// percentage math runs through decimal and is rounded half-up to whole cents.
type Calculator struct {
	commissionPct decimal.Decimal
	payoutFeePct  decimal.Decimal
	baseFeeCents  decimal.Decimal
	perKmCents    decimal.Decimal
	ecoPerKmCents decimal.Decimal
	maxFeeCents   int64
}

// NewCalculator parses the configured percentages and rates.
func NewCalculator(platform config.PlatformConfig, dispatch config.DispatchConfig) (*Calculator, error) {
	commission, err := decimal.NewFromString(platform.CommissionPercent)
	if err != nil {
		return nil, fmt.Errorf("parsing commission percent: %w", err)
	}
	if commission.IsNegative() || commission.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("commission percent %s out of range", commission)
	}
	payoutFee, err := decimal.NewFromString(platform.PayoutFeePercent)
	if err != nil {
		return nil, fmt.Errorf("parsing payout fee percent: %w", err)
	}
	if payoutFee.IsNegative() || payoutFee.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("payout fee percent %s out of range", payoutFee)
	}
	return &Calculator{
		commissionPct: commission,
		payoutFeePct:  payoutFee,
		baseFeeCents:  decimal.NewFromInt(dispatch.BaseFeeCents),
		perKmCents:    decimal.NewFromInt(dispatch.PerKmFeeCents),
		ecoPerKmCents: decimal.NewFromInt(dispatch.EcoBonusPerKm),
		maxFeeCents:   dispatch.MaxFeeCents,
	}, nil
}

// DeliveryFeeCents prices a job as base + per-km, capped at the configured max.
func (c *Calculator) DeliveryFeeCents(distanceKm decimal.Decimal) int64 {
	if distanceKm.IsNegative() {
		distanceKm = decimal.Zero
	}
	fee := c.baseFeeCents.Add(c.perKmCents.Mul(distanceKm))
	cents := fee.Round(0).IntPart()
	if c.maxFeeCents > 0 && cents > c.maxFeeCents {
		return c.maxFeeCents
	}
	return cents
}

// EcoBonusCents returns the per-km bonus for low-emission vehicles, zero otherwise.
func (c *Calculator) EcoBonusCents(vehicle enums.VehicleClass, distanceKm decimal.Decimal) int64 {
	if !vehicle.IsLowEmission() {
		return 0
	}
	if distanceKm.IsNegative() {
		return 0
	}
	return c.ecoPerKmCents.Mul(distanceKm).Round(0).IntPart()
}

// CarbonSavedGrams estimates the emissions avoided by a low-emission run.
func (c *Calculator) CarbonSavedGrams(vehicle enums.VehicleClass, distanceKm decimal.Decimal) int64 {
	if !vehicle.IsLowEmission() || distanceKm.IsNegative() {
		return 0
	}
	return decimal.NewFromInt(carbonSavedGramsPerKm).Mul(distanceKm).Round(0).IntPart()
}

// CommissionCents returns the platform cut on a vendor sale.
func (c *Calculator) CommissionCents(subtotalCents int64) int64 {
	return pctOf(subtotalCents, c.commissionPct)
}

// VendorShareCents is the subtotal net of commission.
func (c *Calculator) VendorShareCents(subtotalCents int64) int64 {
	return subtotalCents - c.CommissionCents(subtotalCents)
}

// PayoutFeeCents returns the withdrawal fee for the requested amount.
func (c *Calculator) PayoutFeeCents(amountCents int64) int64 {
	return pctOf(amountCents, c.payoutFeePct)
}

func pctOf(amountCents int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amountCents).
		Mul(pct).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}
