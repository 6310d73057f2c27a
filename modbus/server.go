package modbus

import (
	"errors"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server is a Modbus server engine: it dispatches decoded requests against a
// DataStore for one configured unit ID. A Server is stateless beyond its
// store and unit ID, and is safe to drive from many connection goroutines at
// once (the DataStore itself must be concurrency-safe; see DataStore).
type Server struct {
	store  DataStore
	unitID UnitID
	logger zerolog.Logger
}

// NewServer creates a Server dispatching against store for the given unit
// ID. Requests whose MBAP unit ID does not match unitID cause the
// connection to be closed (spec §4.5).
func NewServer(store DataStore, unitID UnitID) *Server {
	return &Server{
		store:  store,
		unitID: unitID,
		logger: log.Logger.With().Str("component", "modbus-server").Logger(),
	}
}

// SetLogger overrides the server's logger.
func (s *Server) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// Serve runs the accept loop of ln, spawning one goroutine per accepted
// Channel to run ConnectionLoop. Serve blocks until ln is closed.
func (s *Server) Serve(ln Listener) error {
	return ln.AcceptLoop(func(ch Channel) {
		s.ConnectionLoop(ch)
	})
}

// ConnectionLoop implements the per-connection request-dispatch loop of
// spec §4.5: read a frame, decode it, dispatch it against the store, encode
// and write the response, and repeat until the channel errors or this
// server's unit ID does not match the request's. The channel is always
// closed before ConnectionLoop returns, including when a handler panics.
func (s *Server) ConnectionLoop(ch Channel) {
	defer ch.Close()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("recovered panic in connection loop")
		}
	}()
	for {
		headerBytes, err := ch.ReadExact(HeaderSize)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug().Err(err).Msg("connection closed reading header")
			}
			return
		}
		h, err := DecodeHeader(headerBytes)
		if err != nil {
			s.logger.Warn().Err(err).Msg("bad MBAP header, closing connection")
			return
		}
		if h.UnitID != s.unitID {
			s.logger.Warn().
				Uint8("got", uint8(h.UnitID)).
				Uint8("want", uint8(s.unitID)).
				Msg("unit ID mismatch, closing connection")
			return
		}
		pdu, err := ch.ReadExact(h.PDUSize())
		if err != nil {
			s.logger.Debug().Err(err).Msg("connection closed reading PDU")
			return
		}
		response, ok := s.handleRequest(h, pdu)
		if !ok {
			s.logger.Warn().Int("pdu_size", len(pdu)).Msg("malformed request PDU, closing connection")
			return
		}
		if err := ch.WriteAll(response); err != nil {
			s.logger.Debug().Err(err).Msg("connection closed writing response")
			return
		}
	}
}

// handleRequest decodes one request PDU and returns the full response ADU,
// which is either a normal response or an exception response. It returns
// ok=false for a structurally malformed PDU (per spec §7, a frame error is
// terminal for the connection rather than something to answer in-band).
func (s *Server) handleRequest(h Header, pdu []byte) (adu []byte, ok bool) {
	req, exception, err := DecodeRequest(pdu)
	if err != nil {
		return nil, false
	}
	if exception != nil {
		return EncodeExceptionResponse(h, FunctionCode(pdu[0]), exception.Code), true
	}
	return s.dispatch(h, req), true
}

// dispatch maps a decoded request to DataStore operations, per the FC table
// in spec §4.5, and encodes the resulting response or exception.
func (s *Server) dispatch(h Header, req RequestData) []byte {
	switch req.Function {
	case FunctionReadCoils:
		return s.dispatchReadBits(h, req, Coils)
	case FunctionReadDiscreteInputs:
		return s.dispatchReadBits(h, req, DiscreteInputs)
	case FunctionReadHoldingRegisters:
		return s.dispatchReadRegisters(h, req, HoldingRegisters)
	case FunctionReadInputRegisters:
		return s.dispatchReadRegisters(h, req, InputRegisters)
	case FunctionWriteSingleCoil:
		return s.dispatchWrite(h, req, Coils)
	case FunctionWriteSingleRegister:
		return s.dispatchWrite(h, req, HoldingRegisters)
	default:
		// DecodeRequest already rejects unsupported function codes via
		// ExceptionData; this case is unreachable in practice.
		return EncodeExceptionResponse(h, req.Function, ExceptionIllegalFunction)
	}
}

func (s *Server) dispatchReadBits(h Header, req RequestData, space Space) []byte {
	bits := make([]byte, req.Number)
	for i := 0; i < req.Number; i++ {
		v, err := s.store.Read(space, req.Start+uint16(i))
		if err != nil {
			return EncodeExceptionResponse(h, req.Function, s.storeErrorException(err))
		}
		bits[i] = byte(v)
	}
	return EncodeReadBitsResponse(h, req, bits)
}

func (s *Server) dispatchReadRegisters(h Header, req RequestData, space Space) []byte {
	regs := make([]uint16, req.Number)
	for i := 0; i < req.Number; i++ {
		v, err := s.store.Read(space, req.Start+uint16(i))
		if err != nil {
			return EncodeExceptionResponse(h, req.Function, s.storeErrorException(err))
		}
		regs[i] = v
	}
	return EncodeReadRegistersResponse(h, req, regs)
}

func (s *Server) dispatchWrite(h Header, req RequestData, space Space) []byte {
	if err := s.store.Write(space, req.Start, req.Value); err != nil {
		return EncodeExceptionResponse(h, req.Function, s.storeErrorException(err))
	}
	return EncodeWriteResponse(h, req)
}

// storeErrorException maps a DataStore error to the Modbus exception code
// the server sends back, per spec §7: NOT_FOUND and READ_ONLY both become
// ILLEGAL_DATA_ADDRESS; anything else is an unexpected server failure.
func (s *Server) storeErrorException(err error) ExceptionCode {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrReadOnly):
		return ExceptionIllegalDataAddress
	default:
		s.logger.Error().Err(err).Msg("data store error")
		return ExceptionServerDeviceFailure
	}
}
