package modbus

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size, in bytes, of a Modbus/TCP MBAP header.
const HeaderSize = 7

const (
	// maxReadBits is the maximum quantity accepted for ReadCoils and
	// ReadDiscreteInputs. Spec-correct for registers is 125; the teacher's
	// source used 2000 for every read family. This stack keeps 2000 for the
	// bit families and tightens registers to 125 (the permissible refinement
	// the spec allows; see DESIGN.md).
	maxReadBits = 2000

	// maxReadRegisters is the maximum quantity accepted for
	// ReadHoldingRegisters and ReadInputRegisters.
	maxReadRegisters = 125
)

// Header is a decoded Modbus/TCP MBAP header.
type Header struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16 // byte count of unit ID + PDU
	UnitID        UnitID
}

// PDUSize returns the size of the PDU this header announces, i.e. Length
// minus the one byte taken by UnitID.
func (h Header) PDUSize() int {
	return int(h.Length) - 1
}

// EncodeHeader lays out a 7-byte MBAP header for a PDU of pduSize bytes.
func EncodeHeader(pduSize int, transactionID uint16, unitID UnitID) []byte {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(b[0:2], transactionID)
	// b[2:4] protocol ID, always 0x0000
	binary.BigEndian.PutUint16(b[4:6], uint16(pduSize+1))
	b[6] = byte(unitID)
	return b
}

// DecodeHeader parses a 7-byte MBAP header. It validates only the protocol
// ID; validating the unit ID against policy is the caller's job.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("modbus: short header: got %d bytes, want %d", len(b), HeaderSize)
	}
	protocolID := binary.BigEndian.Uint16(b[2:4])
	if protocolID != 0 {
		return Header{}, fmt.Errorf("modbus: bad protocol identifier %#04x", protocolID)
	}
	return Header{
		TransactionID: binary.BigEndian.Uint16(b[0:2]),
		ProtocolID:    protocolID,
		Length:        binary.BigEndian.Uint16(b[4:6]),
		UnitID:        UnitID(b[6]),
	}, nil
}

// EncodeReadRequest encodes a full 12-byte ADU for a read family request
// (ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters).
func EncodeReadRequest(transactionID uint16, unitID UnitID, fc FunctionCode, start, quantity uint16) []byte {
	adu := make([]byte, 0, HeaderSize+5)
	adu = append(adu, EncodeHeader(5, transactionID, unitID)...)
	adu = append(adu, byte(fc), byte(start>>8), byte(start), byte(quantity>>8), byte(quantity))
	return adu
}

// EncodeWriteRequest encodes a full 12-byte ADU for a single-write request
// (WriteSingleCoil, WriteSingleRegister). For FunctionWriteSingleCoil, any
// nonzero value is encoded as the wire ON value 0xFF00; zero is encoded as
// 0x0000. For FunctionWriteSingleRegister, value is written as-is.
func EncodeWriteRequest(transactionID uint16, unitID UnitID, fc FunctionCode, address, value uint16) []byte {
	wire := value
	if fc == FunctionWriteSingleCoil {
		if value != 0 {
			wire = 0xFF00
		} else {
			wire = 0x0000
		}
	}
	adu := make([]byte, 0, HeaderSize+5)
	adu = append(adu, EncodeHeader(5, transactionID, unitID)...)
	adu = append(adu, byte(fc), byte(address>>8), byte(address), byte(wire>>8), byte(wire))
	return adu
}

// RequestData is a decoded Modbus request PDU.
type RequestData struct {
	Function FunctionCode
	Start    uint16 // start address (read families, and write address)
	Number   int    // quantity, read families only
	Value    uint16 // 0/1 for WriteSingleCoil, raw value for WriteSingleRegister
}

// ExceptionData is a decoded request PDU which is already known to provoke an
// exception response.
type ExceptionData struct {
	Code ExceptionCode
}

// DecodeRequest decodes a Modbus request PDU (function code plus payload,
// without the MBAP header). It returns either a RequestData or, if the PDU
// is structurally fine but out of range, an ExceptionData describing the
// exception response the server should send back.
func DecodeRequest(pdu []byte) (RequestData, *ExceptionData, error) {
	if len(pdu) < 5 {
		return RequestData{}, nil, fmt.Errorf("modbus: short PDU: got %d bytes, want at least 5", len(pdu))
	}
	fc := FunctionCode(pdu[0])
	start := binary.BigEndian.Uint16(pdu[1:3])
	switch fc {
	case FunctionWriteSingleCoil:
		wire := binary.BigEndian.Uint16(pdu[3:5])
		if wire != 0xFF00 && wire != 0x0000 {
			return RequestData{}, &ExceptionData{Code: ExceptionIllegalDataValue}, nil
		}
		value := uint16(0)
		if wire == 0xFF00 {
			value = 1
		}
		return RequestData{Function: fc, Start: start, Value: value}, nil, nil
	case FunctionWriteSingleRegister:
		value := binary.BigEndian.Uint16(pdu[3:5])
		return RequestData{Function: fc, Start: start, Value: value}, nil, nil
	case FunctionReadCoils, FunctionReadDiscreteInputs:
		number := int(binary.BigEndian.Uint16(pdu[3:5]))
		if number == 0 || number > maxReadBits {
			return RequestData{}, &ExceptionData{Code: ExceptionIllegalDataValue}, nil
		}
		return RequestData{Function: fc, Start: start, Number: number}, nil, nil
	case FunctionReadHoldingRegisters, FunctionReadInputRegisters:
		number := int(binary.BigEndian.Uint16(pdu[3:5]))
		if number == 0 || number > maxReadRegisters {
			return RequestData{}, &ExceptionData{Code: ExceptionIllegalDataValue}, nil
		}
		return RequestData{Function: fc, Start: start, Number: number}, nil, nil
	default:
		return RequestData{}, &ExceptionData{Code: ExceptionIllegalFunction}, nil
	}
}

// packBits packs bits[i] (treated as 0/nonzero) into bit i%8 of byte i/8,
// LSB-first within each byte.
func packBits(bits []byte) []byte {
	byteCount := (len(bits) + 7) / 8
	out := make([]byte, byteCount)
	for i, b := range bits {
		if b != 0 {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

// EncodeReadBitsResponse encodes the full ADU of a ReadCoils/
// ReadDiscreteInputs response for the given request and bit values.
func EncodeReadBitsResponse(h Header, req RequestData, bits []byte) []byte {
	data := packBits(bits)
	pdu := make([]byte, 0, 2+len(data))
	pdu = append(pdu, byte(req.Function), byte(len(data)))
	pdu = append(pdu, data...)
	adu := make([]byte, 0, HeaderSize+len(pdu))
	adu = append(adu, EncodeHeader(len(pdu), h.TransactionID, h.UnitID)...)
	return append(adu, pdu...)
}

// EncodeReadRegistersResponse encodes the full ADU of a
// ReadHoldingRegisters/ReadInputRegisters response for the given request and
// register values.
func EncodeReadRegistersResponse(h Header, req RequestData, regs []uint16) []byte {
	data := make([]byte, 2*len(regs))
	for i, r := range regs {
		binary.BigEndian.PutUint16(data[2*i:2*i+2], r)
	}
	pdu := make([]byte, 0, 2+len(data))
	pdu = append(pdu, byte(req.Function), byte(len(data)))
	pdu = append(pdu, data...)
	adu := make([]byte, 0, HeaderSize+len(pdu))
	adu = append(adu, EncodeHeader(len(pdu), h.TransactionID, h.UnitID)...)
	return append(adu, pdu...)
}

// EncodeWriteResponse encodes the full ADU of a single-write response. Per
// the protocol, the response to a single write echoes the request verbatim,
// so this simply re-invokes EncodeWriteRequest with the same parameters.
func EncodeWriteResponse(h Header, req RequestData) []byte {
	return EncodeWriteRequest(h.TransactionID, h.UnitID, req.Function, req.Start, req.Value)
}

// EncodeExceptionResponse encodes the full 9-byte ADU of an exception
// response to function code fc.
func EncodeExceptionResponse(h Header, fc FunctionCode, code ExceptionCode) []byte {
	pdu := []byte{byte(fc.AsError()), byte(code)}
	adu := make([]byte, 0, HeaderSize+len(pdu))
	adu = append(adu, EncodeHeader(len(pdu), h.TransactionID, h.UnitID)...)
	return append(adu, pdu...)
}

// DecodeReadBitsResponse decodes a ReadCoils/ReadDiscreteInputs response PDU,
// returning the first requestedQuantity bits as a sequence of 0/1 bytes.
func DecodeReadBitsResponse(pdu []byte, requestedQuantity int) ([]byte, error) {
	if len(pdu) < 2 {
		return nil, fmt.Errorf("modbus: short response PDU: got %d bytes", len(pdu))
	}
	fc := FunctionCode(pdu[0])
	if fc.IsError() {
		return nil, ExceptionCode(pdu[1])
	}
	if fc != FunctionReadCoils && fc != FunctionReadDiscreteInputs {
		return nil, fmt.Errorf("modbus: unexpected function code %#02x in bit response", byte(fc))
	}
	byteCount := int(pdu[1])
	if len(pdu) != 2+byteCount {
		return nil, fmt.Errorf("modbus: bad byte count %d for PDU of length %d", byteCount, len(pdu))
	}
	bits := make([]byte, 0, requestedQuantity)
	for i := 0; i < byteCount && len(bits) < requestedQuantity; i++ {
		b := pdu[2+i]
		for bit := 0; bit < 8 && len(bits) < requestedQuantity; bit++ {
			bits = append(bits, (b>>uint(bit))&1)
		}
	}
	return bits, nil
}

// DecodeReadRegistersResponse decodes a ReadHoldingRegisters/
// ReadInputRegisters response PDU, returning requestedQuantity 16-bit values.
func DecodeReadRegistersResponse(pdu []byte, requestedQuantity int) ([]uint16, error) {
	if len(pdu) < 2 {
		return nil, fmt.Errorf("modbus: short response PDU: got %d bytes", len(pdu))
	}
	fc := FunctionCode(pdu[0])
	if fc.IsError() {
		return nil, ExceptionCode(pdu[1])
	}
	if fc != FunctionReadHoldingRegisters && fc != FunctionReadInputRegisters {
		return nil, fmt.Errorf("modbus: unexpected function code %#02x in register response", byte(fc))
	}
	byteCount := int(pdu[1])
	if len(pdu) != 2+byteCount || byteCount != 2*requestedQuantity {
		return nil, fmt.Errorf("modbus: bad byte count %d for quantity %d", byteCount, requestedQuantity)
	}
	regs := make([]uint16, requestedQuantity)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(pdu[2+2*i : 4+2*i])
	}
	return regs, nil
}
