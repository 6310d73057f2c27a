package modbus

// UnitID describes a Modbus unit identifier, carried in the MBAP header to
// identify the addressed server device.
type UnitID uint8

// Unit identifier constants.
const (
	// UnitIndividualMin is the minimum valid unit ID for an individual Modbus
	// server device.
	UnitIndividualMin UnitID = 1

	// UnitIndividualMax is the maximum valid unit ID for an individual Modbus
	// server device.
	UnitIndividualMax UnitID = 247

	// UnitTCP is the unit identifier conventionally used when a Modbus/TCP
	// server does not distinguish between unit IDs (gateway-less TCP-only
	// device).
	UnitTCP UnitID = 255
)

// IsValid checks whether this unit identifier is valid, either for an
// individual Modbus server device or for a Modbus/TCP-only device.
func (uid UnitID) IsValid() bool {
	return uid == UnitTCP || (uid >= UnitIndividualMin && uid <= UnitIndividualMax)
}
