package domain

// DriverStatus represents the current status of a driver.
type DriverStatus string

const (
	DriverStatusOnline  DriverStatus = "ONLINE"
	DriverStatusOffline DriverStatus = "OFFLINE"
	DriverStatusOnTrip  DriverStatus = "ON_TRIP"
)

// Gender is the driver-declared gender used by pink captain matching.
type Gender string

const (
	GenderFemale Gender = "FEMALE"
	GenderMale   Gender = "MALE"
)

// Driver represents a driver in the system.
type Driver struct {
	ID          string
	Name        string
	Phone       string
	Status      DriverStatus
	VehicleType string
	PlateNumber string
	KYCLevel    int
	Gender      Gender

	// Passenger-safety options the driver opted into.
	AcceptsPinkCaptain     bool
	AcceptsFamilyRides     bool
	AcceptsNoMaleCompanion bool
}

// IsActive reports whether the driver can take new work.
func (d *Driver) IsActive() bool {
	return d.Status == DriverStatusOnline
}
