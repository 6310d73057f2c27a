package modbus

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ProtocolError describes a response which is structurally fine but
// inconsistent with the request that provoked it (transaction ID or unit ID
// mismatch, or an echoed write that doesn't match what was sent).
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "modbus: protocol violation: " + e.Reason
}

// Client is a Modbus/TCP client engine bound to a single Channel. Per
// spec, a Client does not pipeline: only one request may be outstanding on
// the channel at a time. The mutex below exists so a shared *Client doesn't
// corrupt the wire if misused from multiple goroutines, but the intended
// usage remains one caller per Client.
type Client struct {
	mx      sync.Mutex
	channel Channel
	nextTID uint16
	logger  zerolog.Logger
}

// DialTCP connects to a Modbus/TCP server at addr (host:port) and returns a
// Client ready to issue requests.
func DialTCP(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("modbus: dial %s: %w", addr, err)
	}
	return NewClient(newTCPChannel(conn, timeout)), nil
}

// NewClient wraps an already-established Channel in a Client. Most callers
// should use DialTCP instead; NewClient is exported so tests and embedders
// can drive the client engine over a Channel such as the in-memory loopback.
func NewClient(channel Channel) *Client {
	return &Client{
		channel: channel,
		logger:  log.Logger.With().Str("component", "modbus-client").Logger(),
	}
}

// SetLogger overrides the client's logger.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// Close closes the underlying channel.
func (c *Client) Close() error {
	return c.channel.Close()
}

// allocTID returns the next transaction ID, wrapping modulo 2^16.
func (c *Client) allocTID() uint16 {
	tid := c.nextTID
	c.nextTID++
	return tid
}

// roundTrip sends request (already framed with a fresh transaction ID) and
// returns the decoded header and response PDU after validating transaction
// ID, protocol ID, and unit ID.
func (c *Client) roundTrip(unit UnitID, tid uint16, request []byte) (Header, []byte, error) {
	if err := c.channel.WriteAll(request); err != nil {
		return Header{}, nil, fmt.Errorf("modbus: write request: %w", err)
	}
	headerBytes, err := c.channel.ReadExact(HeaderSize)
	if err != nil {
		return Header{}, nil, fmt.Errorf("modbus: read response header: %w", err)
	}
	h, err := DecodeHeader(headerBytes)
	if err != nil {
		return Header{}, nil, err
	}
	if h.TransactionID != tid {
		return Header{}, nil, &ProtocolError{Reason: fmt.Sprintf(
			"transaction ID mismatch: sent %d, got %d", tid, h.TransactionID)}
	}
	if h.UnitID != unit {
		return Header{}, nil, &ProtocolError{Reason: fmt.Sprintf(
			"unit ID mismatch: sent %d, got %d", unit, h.UnitID)}
	}
	pdu, err := c.channel.ReadExact(h.PDUSize())
	if err != nil {
		return Header{}, nil, fmt.Errorf("modbus: read response PDU: %w", err)
	}
	if len(pdu) > 0 && FunctionCode(pdu[0]).IsError() {
		return h, pdu, ExceptionCode(pdu[1])
	}
	return h, pdu, nil
}

func (c *Client) readBits(unit UnitID, fc FunctionCode, start, quantity uint16) ([]byte, error) {
	if quantity == 0 {
		return nil, fmt.Errorf("modbus: quantity must be positive")
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	tid := c.allocTID()
	request := EncodeReadRequest(tid, unit, fc, start, quantity)
	_, pdu, err := c.roundTrip(unit, tid, request)
	if err != nil {
		return nil, err
	}
	return DecodeReadBitsResponse(pdu, int(quantity))
}

func (c *Client) readRegisters(unit UnitID, fc FunctionCode, start, quantity uint16) ([]uint16, error) {
	if quantity == 0 {
		return nil, fmt.Errorf("modbus: quantity must be positive")
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	tid := c.allocTID()
	request := EncodeReadRequest(tid, unit, fc, start, quantity)
	_, pdu, err := c.roundTrip(unit, tid, request)
	if err != nil {
		return nil, err
	}
	return DecodeReadRegistersResponse(pdu, int(quantity))
}

// ReadCoils reads quantity coils starting at start.
func (c *Client) ReadCoils(unit UnitID, start, quantity uint16) ([]byte, error) {
	return c.readBits(unit, FunctionReadCoils, start, quantity)
}

// ReadDiscreteInputs reads quantity discrete inputs starting at start.
func (c *Client) ReadDiscreteInputs(unit UnitID, start, quantity uint16) ([]byte, error) {
	return c.readBits(unit, FunctionReadDiscreteInputs, start, quantity)
}

// ReadHoldingRegisters reads quantity holding registers starting at start.
func (c *Client) ReadHoldingRegisters(unit UnitID, start, quantity uint16) ([]uint16, error) {
	return c.readRegisters(unit, FunctionReadHoldingRegisters, start, quantity)
}

// ReadInputRegisters reads quantity input registers starting at start.
func (c *Client) ReadInputRegisters(unit UnitID, start, quantity uint16) ([]uint16, error) {
	return c.readRegisters(unit, FunctionReadInputRegisters, start, quantity)
}

// WriteSingleCoil sets the coil at address to value (true for ON, false for
// OFF).
func (c *Client) WriteSingleCoil(unit UnitID, address uint16, value bool) error {
	wireValue := uint16(0)
	if value {
		wireValue = 1
	}
	return c.writeSingle(unit, FunctionWriteSingleCoil, address, wireValue)
}

// WriteSingleRegister sets the holding register at address to value.
func (c *Client) WriteSingleRegister(unit UnitID, address, value uint16) error {
	return c.writeSingle(unit, FunctionWriteSingleRegister, address, value)
}

func (c *Client) writeSingle(unit UnitID, fc FunctionCode, address, value uint16) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	tid := c.allocTID()
	request := EncodeWriteRequest(tid, unit, fc, address, value)
	_, pdu, err := c.roundTrip(unit, tid, request)
	if err != nil {
		return err
	}
	echoed, exception, decodeErr := DecodeRequest(pdu)
	if decodeErr != nil {
		return decodeErr
	}
	if exception != nil {
		return exception.Code
	}
	if echoed.Start != address {
		return &ProtocolError{Reason: fmt.Sprintf(
			"echoed address mismatch: sent %d, got %d", address, echoed.Start)}
	}
	if echoed.Value != value {
		return &ProtocolError{Reason: fmt.Sprintf(
			"echoed value mismatch: sent %d, got %d", value, echoed.Value)}
	}
	return nil
}
