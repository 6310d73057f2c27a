package modbus

// FunctionCode describes a Modbus function code.
type FunctionCode uint8

// Function code constants. This implementation supports only the read and
// single-write functions; multi-register/multi-coil writes, diagnostics, and
// the remainder of the Annex A table are explicit non-goals.
const (
	FunctionReadCoils            FunctionCode = 0x01
	FunctionReadDiscreteInputs   FunctionCode = 0x02
	FunctionReadHoldingRegisters FunctionCode = 0x03
	FunctionReadInputRegisters   FunctionCode = 0x04
	FunctionWriteSingleCoil      FunctionCode = 0x05
	FunctionWriteSingleRegister  FunctionCode = 0x06
)

// FunctionError is the bit in the function code which marks an exception
// response.
const FunctionError FunctionCode = 0x80

// IsError determines whether this function code is from an exception
// response.
func (fc FunctionCode) IsError() bool {
	return fc&FunctionError != 0
}

// AsError returns this function code with the exception bit set.
func (fc FunctionCode) AsError() FunctionCode {
	return fc | FunctionError
}

// IsSupported determines whether this function code is one of the six read
// and single-write functions this stack implements.
func (fc FunctionCode) IsSupported() bool {
	switch fc {
	case FunctionReadCoils, FunctionReadDiscreteInputs,
		FunctionReadHoldingRegisters, FunctionReadInputRegisters,
		FunctionWriteSingleCoil, FunctionWriteSingleRegister:
		return true
	default:
		return false
	}
}

// IsReadFunction determines whether this function code reads from the data
// store.
func (fc FunctionCode) IsReadFunction() bool {
	switch fc {
	case FunctionReadCoils, FunctionReadDiscreteInputs,
		FunctionReadHoldingRegisters, FunctionReadInputRegisters:
		return true
	default:
		return false
	}
}
