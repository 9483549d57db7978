package enums

import "fmt"

// VehicleClass names the transport mode declared for a delivery. Low-emission
// classes qualify for the eco bonus.
type VehicleClass string

const (
	VehicleClassOnFoot    VehicleClass = "on_foot"
	VehicleClassBicycle   VehicleClass = "bicycle"
	VehicleClassEBike     VehicleClass = "e_bike"
	VehicleClassEScooter  VehicleClass = "e_scooter"
	VehicleClassMotorbike VehicleClass = "motorbike"
	VehicleClassCar       VehicleClass = "car"
)

var validVehicleClasses = []VehicleClass{
	VehicleClassOnFoot,
	VehicleClassBicycle,
	VehicleClassEBike,
	VehicleClassEScooter,
	VehicleClassMotorbike,
	VehicleClassCar,
}

// String implements fmt.Stringer.
func (v VehicleClass) String() string {
	return string(v)
}

// IsValid reports whether the value is a known VehicleClass.
func (v VehicleClass) IsValid() bool {
	for _, candidate := range validVehicleClasses {
		if candidate == v {
			return true
		}
	}
	return false
}

// IsLowEmission reports whether the class qualifies for the eco bonus.
func (v VehicleClass) IsLowEmission() bool {
	switch v {
	case VehicleClassOnFoot, VehicleClassBicycle, VehicleClassEBike, VehicleClassEScooter:
		return true
	default:
		return false
	}
}

// ParseVehicleClass converts raw input into a VehicleClass.
func ParseVehicleClass(value string) (VehicleClass, error) {
	for _, candidate := range validVehicleClasses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid vehicle class %q", value)
}
