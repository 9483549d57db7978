package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/greenmile-app/greenmile-backend/pkg/config"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

func testCalculator(t *testing.T) *Calculator {
	t.Helper()
	calc, err := NewCalculator(
		config.PlatformConfig{CommissionPercent: "10", PayoutFeePercent: "1.5"},
		config.DispatchConfig{
			BaseFeeCents:  500,
			PerKmFeeCents: 200,
			EcoBonusPerKm: 100,
			MaxFeeCents:   5000,
		},
	)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	return calc
}

func TestDeliveryFeeCents(t *testing.T) {
	calc := testCalculator(t)

	cases := []struct {
		name     string
		distance string
		want     int64
	}{
		{"zero distance is base fee", "0", 500},
		{"whole km", "3", 1100},
		{"fractional km rounds", "2.5", 1000},
		{"negative clamps to base", "-4", 500},
		{"capped at max", "100", 5000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := decimal.NewFromString(tc.distance)
			if err != nil {
				t.Fatalf("parse distance: %v", err)
			}
			if got := calc.DeliveryFeeCents(d); got != tc.want {
				t.Fatalf("expected %d got %d", tc.want, got)
			}
		})
	}
}

func TestEcoBonusOnlyForLowEmission(t *testing.T) {
	calc := testCalculator(t)
	dist := decimal.NewFromInt(4)

	if got := calc.EcoBonusCents(enums.VehicleClassBicycle, dist); got != 400 {
		t.Fatalf("expected 400 for bicycle got %d", got)
	}
	if got := calc.EcoBonusCents(enums.VehicleClassEBike, dist); got != 400 {
		t.Fatalf("expected 400 for e_bike got %d", got)
	}
	if got := calc.EcoBonusCents(enums.VehicleClassCar, dist); got != 0 {
		t.Fatalf("expected 0 for car got %d", got)
	}
	if got := calc.EcoBonusCents(enums.VehicleClassMotorbike, dist); got != 0 {
		t.Fatalf("expected 0 for motorbike got %d", got)
	}
}

func TestCarbonSavedGrams(t *testing.T) {
	calc := testCalculator(t)

	if got := calc.CarbonSavedGrams(enums.VehicleClassBicycle, decimal.NewFromInt(5)); got != 900 {
		t.Fatalf("expected 900g got %d", got)
	}
	if got := calc.CarbonSavedGrams(enums.VehicleClassCar, decimal.NewFromInt(5)); got != 0 {
		t.Fatalf("expected 0g for car got %d", got)
	}
}

func TestCommissionAndVendorShare(t *testing.T) {
	calc := testCalculator(t)

	if got := calc.CommissionCents(10000); got != 1000 {
		t.Fatalf("expected 1000 got %d", got)
	}
	if got := calc.VendorShareCents(10000); got != 9000 {
		t.Fatalf("expected 9000 got %d", got)
	}
	// Commission + share always reassembles the subtotal.
	for _, subtotal := range []int64{1, 99, 12345, 1000001} {
		if calc.CommissionCents(subtotal)+calc.VendorShareCents(subtotal) != subtotal {
			t.Fatalf("split does not sum to subtotal for %d", subtotal)
		}
	}
}

func TestPayoutFeeRounding(t *testing.T) {
	calc := testCalculator(t)

	// 1.5% of 10000 = 150
	if got := calc.PayoutFeeCents(10000); got != 150 {
		t.Fatalf("expected 150 got %d", got)
	}
	// 1.5% of 33 = 0.495 rounds to 0
	if got := calc.PayoutFeeCents(33); got != 0 {
		t.Fatalf("expected 0 got %d", got)
	}
	// 1.5% of 34 = 0.51 rounds to 1
	if got := calc.PayoutFeeCents(34); got != 1 {
		t.Fatalf("expected 1 got %d", got)
	}
}

func TestNewCalculatorRejectsBadPercent(t *testing.T) {
	_, err := NewCalculator(
		config.PlatformConfig{CommissionPercent: "abc", PayoutFeePercent: "1.5"},
		config.DispatchConfig{},
	)
	if err == nil {
		t.Fatal("expected parse error")
	}

	_, err = NewCalculator(
		config.PlatformConfig{CommissionPercent: "120", PayoutFeePercent: "1.5"},
		config.DispatchConfig{},
	)
	if err == nil {
		t.Fatal("expected range error")
	}
}
