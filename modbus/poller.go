package modbus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thinkgos/timing/v3"
)

// PollResult is delivered to a Poller's OnData callback after each
// successful scan.
type PollResult struct {
	// Bits holds the decoded values for a bit-addressed read (ReadCoils or
	// ReadDiscreteInputs); nil for a register read.
	Bits []byte

	// Registers holds the decoded values for a register-addressed read
	// (ReadHoldingRegisters or ReadInputRegisters); nil for a bit read.
	Registers []uint16
}

// OnPollDataFunc receives the result of one successful scan.
type OnPollDataFunc func(PollResult)

// OnPollErrorFunc receives the error from one failed scan; the Poller keeps
// running afterward and retries at the next scheduled tick.
type OnPollErrorFunc func(error)

// Poller is a client-side helper that issues one read operation against a
// Client on a repeating schedule, pushing each outcome to a callback. It is
// a self-rescheduling timer job: every firing reads the registers for this
// scan, invokes the appropriate callback, then re-arms itself for the next
// tick, so a slow or failing read never causes ticks to pile up.
type Poller struct {
	client   *Client
	unit     UnitID
	fc       FunctionCode
	start    uint16
	quantity uint16
	scanRate time.Duration
	logger   zerolog.Logger

	mx      sync.Mutex
	onData  OnPollDataFunc
	onError OnPollErrorFunc

	timer    *timing.Timing
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewPoller creates a Poller that repeatedly issues a single read operation
// (one of ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters or
// ReadInputRegisters) against client, every scanRate, until Stop is called.
func NewPoller(client *Client, unit UnitID, fc FunctionCode, start, quantity uint16, scanRate time.Duration) *Poller {
	return &Poller{
		client:   client,
		unit:     unit,
		fc:       fc,
		start:    start,
		quantity: quantity,
		scanRate: scanRate,
		logger:   log.Logger.With().Str("component", "modbus-poller").Logger(),
		stopped:  make(chan struct{}),
	}
}

// SetLogger overrides the poller's logger.
func (p *Poller) SetLogger(logger zerolog.Logger) {
	p.logger = logger
}

// OnData sets the callback invoked after every successful scan, replacing
// any previously set callback.
func (p *Poller) OnData(fn OnPollDataFunc) {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.onData = fn
}

// OnError sets the callback invoked after every failed scan, replacing any
// previously set callback.
func (p *Poller) OnError(fn OnPollErrorFunc) {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.onError = fn
}

// Start arms the poller's first tick. The first scan fires after one
// scanRate interval has elapsed.
func (p *Poller) Start() {
	p.timer = timing.New()
	p.timer.Run()
	p.timer.AddJobFunc(p.tick, p.scanRate)
}

// Stop disarms the poller. A scan already in flight is allowed to finish,
// but it will not reschedule itself. Stop is idempotent.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)
	})
}

func (p *Poller) tick() {
	select {
	case <-p.stopped:
		return
	default:
	}
	result, err := p.scan()
	if err != nil {
		p.logger.Warn().Err(err).Msg("poll failed")
		p.mx.Lock()
		onError := p.onError
		p.mx.Unlock()
		if onError != nil {
			onError(err)
		}
	} else {
		p.mx.Lock()
		onData := p.onData
		p.mx.Unlock()
		if onData != nil {
			onData(result)
		}
	}
	select {
	case <-p.stopped:
		return
	default:
		p.timer.AddJobFunc(p.tick, p.scanRate)
	}
}

func (p *Poller) scan() (PollResult, error) {
	switch p.fc {
	case FunctionReadCoils:
		bits, err := p.client.ReadCoils(p.unit, p.start, p.quantity)
		return PollResult{Bits: bits}, err
	case FunctionReadDiscreteInputs:
		bits, err := p.client.ReadDiscreteInputs(p.unit, p.start, p.quantity)
		return PollResult{Bits: bits}, err
	case FunctionReadHoldingRegisters:
		regs, err := p.client.ReadHoldingRegisters(p.unit, p.start, p.quantity)
		return PollResult{Registers: regs}, err
	case FunctionReadInputRegisters:
		regs, err := p.client.ReadInputRegisters(p.unit, p.start, p.quantity)
		return PollResult{Registers: regs}, err
	default:
		return PollResult{}, &ProtocolError{Reason: "poller configured with a non-read function code"}
	}
}
