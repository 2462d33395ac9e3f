package nrf24

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Frame is one received payload.
type Frame []byte

// Pipe is a logical receive channel with its own address, payload width
// and a bounded frame queue fed by the drain loop.
type Pipe struct {
	number int
	dev    *Device
	queue  chan Frame

	payloadLength atomic.Int32
	received      atomic.Uint64
	dropped       atomic.Uint64
}

// PipeStats is a point-in-time view of a pipe queue.
type PipeStats struct {
	Number   int    `json:"number"`
	Queued   int    `json:"queued"`
	Capacity int    `json:"capacity"`
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
}

func newPipe(dev *Device, number, size int) *Pipe {
	p := &Pipe{
		number: number,
		dev:    dev,
		queue:  make(chan Frame, size),
	}
	p.payloadLength.Store(MaxPayload)
	return p
}

// Number returns the pipe number.
func (p *Pipe) Number() int { return p.number }

// Capacity returns the queue capacity.
func (p *Pipe) Capacity() int { return cap(p.queue) }

// Stats returns queue counters.
func (p *Pipe) Stats() PipeStats {
	return PipeStats{
		Number:   p.number,
		Queued:   len(p.queue),
		Capacity: cap(p.queue),
		Received: p.received.Load(),
		Dropped:  p.dropped.Load(),
	}
}

func (p *Pipe) String() string {
	return fmt.Sprintf("pipe %d", p.number)
}

// Address reads the pipe's RX address.
func (p *Pipe) Address() (uint64, error) {
	return p.dev.regs.ReadAddress(RxAddrName(p.number))
}

// SetAddress writes the pipe's RX address. Pipes 2-5 only hold the
// least significant byte; the rest is shared with pipe 1.
func (p *Pipe) SetAddress(addr uint64) error {
	if addr>>AddressBits != 0 {
		return fmt.Errorf("%w: address 0x%X wider than %d bits", ErrInvalidConfiguration, addr, AddressBits)
	}
	return p.dev.regs.WriteAddress(RxAddrName(p.number), addr)
}

// PayloadLength reads the configured static payload width from the device.
func (p *Pipe) PayloadLength() (int, error) {
	w, err := p.dev.regs.ReadPayloadWidth(p.number)
	if err != nil {
		return 0, err
	}
	return int(w), nil
}

// SetPayloadLength sets the static payload width (1-32 bytes).
func (p *Pipe) SetPayloadLength(n int) error {
	if n < 1 || n > MaxPayload {
		return fmt.Errorf("%w: payload length %d out of range (1-%d)", ErrInvalidConfiguration, n, MaxPayload)
	}
	if err := p.dev.regs.WritePayloadWidth(p.number, uint8(n)); err != nil {
		return err
	}
	p.payloadLength.Store(int32(n))
	return nil
}

// frameLength is the payload width used by the drain loop.
func (p *Pipe) frameLength() int {
	return int(p.payloadLength.Load())
}

func (p *Pipe) bit(prefix string) string {
	return prefix + string('0'+rune(p.number))
}

// AutoAck reads EN_AA for this pipe.
func (p *Pipe) AutoAck() (bool, error) {
	return p.dev.regs.Flag(NameEnAA, p.bit("ENAA_P"))
}

// SetAutoAck writes EN_AA for this pipe.
func (p *Pipe) SetAutoAck(on bool) error {
	return p.dev.regs.SetFlag(NameEnAA, p.bit("ENAA_P"), on)
}

// Enabled reads EN_RXADDR for this pipe.
func (p *Pipe) Enabled() (bool, error) {
	return p.dev.regs.Flag(NameEnRxAddr, p.bit("ERX_P"))
}

// SetEnabled writes EN_RXADDR for this pipe.
func (p *Pipe) SetEnabled(on bool) error {
	return p.dev.regs.SetFlag(NameEnRxAddr, p.bit("ERX_P"), on)
}

// DynamicPayload reads DYNPD for this pipe.
func (p *Pipe) DynamicPayload() (bool, error) {
	return p.dev.regs.Flag(NameDynPD, p.bit("DPL_P"))
}

// SetDynamicPayload writes DYNPD for this pipe. Enabling it also sets
// FEATURE.EN_DPL, which the device requires.
func (p *Pipe) SetDynamicPayload(on bool) error {
	if on {
		if err := p.dev.regs.SetFlag(NameFeature, "EN_DPL", true); err != nil {
			return err
		}
	}
	return p.dev.regs.SetFlag(NameDynPD, p.bit("DPL_P"), on)
}

// ReceiveFromHardware queues a frame without blocking. A full queue drops
// the incoming frame and reports false.
func (p *Pipe) ReceiveFromHardware(frame Frame) bool {
	select {
	case p.queue <- frame:
		p.received.Add(1)
		return true
	default:
		dropped := p.dropped.Add(1)
		p.dev.logger.Warn("Pipe queue full, frame dropped",
			"pipe", p.number,
			"bytes", len(frame),
			"dropped_total", dropped)
		if h := p.dev.cfg.Hooks.OnDrop; h != nil {
			h(p.number, frame)
		}
		return false
	}
}

// HasData reports whether a frame is queued.
func (p *Pipe) HasData() bool {
	return len(p.queue) > 0
}

// Receive dequeues a frame without blocking.
func (p *Pipe) Receive() (Frame, bool) {
	select {
	case f := <-p.queue:
		return f, true
	default:
		return nil, false
	}
}

// Await waits for the next frame. A timeout of zero waits until ctx is
// done. ErrNoData is returned when the timeout expires first.
func (p *Pipe) Await(ctx context.Context, timeout time.Duration) (Frame, error) {
	if f, ok := p.Receive(); ok {
		return f, nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case f := <-p.queue:
		return f, nil
	case <-expired:
		return nil, ErrNoData
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
