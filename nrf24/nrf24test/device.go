// Package nrf24test provides an in-memory nRF24L01 that speaks the SPI
// command set, for driving the nrf24 package in tests.
package nrf24test

import (
	"errors"
	"sync"
)

// ErrNotSelected is returned for a transfer while CSN is high.
var ErrNotSelected = errors.New("transfer without chip-select")

const (
	regStatus     = 0x07
	regFifoStatus = 0x17
	rxFifoDepth   = 3
)

// widths of the multi-byte registers; everything else is one byte
var registerWidths = map[byte]int{0x0A: 5, 0x0B: 5, 0x10: 5}

// power-on reset values from the datasheet
var resetValues = map[byte][]byte{
	0x00: {0x08},
	0x01: {0x3F},
	0x02: {0x03},
	0x03: {0x03},
	0x04: {0x03},
	0x05: {0x02},
	0x06: {0x0F},
	0x07: {0x0E},
	0x0A: {0xE7, 0xE7, 0xE7, 0xE7, 0xE7},
	0x0B: {0xC2, 0xC2, 0xC2, 0xC2, 0xC2},
	0x0C: {0xC3},
	0x0D: {0xC4},
	0x0E: {0xC5},
	0x0F: {0xC6},
	0x10: {0xE7, 0xE7, 0xE7, 0xE7, 0xE7},
}

type payload struct {
	pipe int
	data []byte
}

// Device is a simulated transceiver. It implements the Tx/Close bus
// contract; its CSN and CE pins implement Set/Close.
type Device struct {
	mu sync.Mutex

	regs     map[byte][]byte
	rx       []payload
	selected bool
	shifted  []byte

	commands []byte
	writes   int
	closed   bool

	txErr error

	CSN *Pin
	CE  *Pin
}

// New returns a device holding its power-on register values.
func New() *Device {
	d := &Device{regs: make(map[byte][]byte)}
	for addr, v := range resetValues {
		d.regs[addr] = append([]byte(nil), v...)
	}
	d.CSN = &Pin{name: "csn", high: true, onSet: d.selectChanged}
	d.CE = &Pin{name: "ce"}
	return d
}

// Inject queues a payload in the RX FIFO as if received on pipe. Payloads
// beyond the three-deep hardware FIFO are lost, as on the real device.
func (d *Device) Inject(pipe int, data ...byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rx) >= rxFifoDepth {
		return false
	}
	d.rx = append(d.rx, payload{pipe: pipe, data: append([]byte(nil), data...)})
	return true
}

// FailTx makes every later transfer fail with err; nil restores the bus.
func (d *Device) FailTx(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txErr = err
}

// Pending returns the number of payloads left in the RX FIFO.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rx)
}

// Register returns the stored bytes of a register.
func (d *Device) Register(addr byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if addr == regStatus {
		return []byte{d.status()}
	}
	return append([]byte(nil), d.value(addr)...)
}

// Writes counts completed W_REGISTER commands.
func (d *Device) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// Commands returns the command byte of every transaction so far.
func (d *Device) Commands() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.commands...)
}

// CountCommand counts transactions that started with cmd.
func (d *Device) CountCommand(cmd byte) int {
	n := 0
	for _, c := range d.Commands() {
		if c == cmd {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Tx shifts w in and the device response out.
func (d *Device) Tx(w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.txErr != nil {
		return d.txErr
	}
	if !d.selected {
		return ErrNotSelected
	}
	if len(w) != len(r) {
		return errors.New("tx and rx buffers differ in length")
	}

	for i, b := range w {
		pos := len(d.shifted)
		if pos == 0 {
			d.commands = append(d.commands, b)
		}
		d.shifted = append(d.shifted, b)
		r[i] = d.out(pos)
	}
	return nil
}

// Close implements the bus contract.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Device) value(addr byte) []byte {
	if addr == regFifoStatus {
		var v byte = 0x10 // TX_EMPTY
		if len(d.rx) == 0 {
			v |= 0x01
		}
		if len(d.rx) >= rxFifoDepth {
			v |= 0x02
		}
		return []byte{v}
	}
	if v, ok := d.regs[addr]; ok {
		return v
	}
	width := registerWidths[addr]
	if width == 0 {
		width = 1
	}
	return make([]byte, width)
}

func (d *Device) status() byte {
	s := d.value(regStatus)[0] & 0x70
	if len(d.rx) == 0 {
		s |= 7 << 1
	} else {
		s |= byte(d.rx[0].pipe&7) << 1
	}
	return s
}

// out is the byte shifted out at position pos of the current transaction.
func (d *Device) out(pos int) byte {
	if pos == 0 {
		return d.status()
	}

	cmd := d.shifted[0]
	switch {
	case cmd&0xE0 == 0x00:
		addr := cmd & 0x1F
		v := d.value(addr)
		if addr == regStatus {
			v = []byte{d.status()}
		}
		if pos-1 < len(v) {
			return v[pos-1]
		}
	case cmd == 0x61:
		if len(d.rx) > 0 && pos-1 < len(d.rx[0].data) {
			return d.rx[0].data[pos-1]
		}
	case cmd == 0x60:
		if len(d.rx) > 0 {
			return byte(len(d.rx[0].data))
		}
	}
	return 0
}

func (d *Device) selectChanged(high bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !high {
		d.selected = true
		d.shifted = d.shifted[:0]
		return
	}
	if !d.selected {
		return
	}
	d.selected = false
	d.commit()
}

// commit applies the command shifted in during the finished transaction.
func (d *Device) commit() {
	if len(d.shifted) == 0 {
		return
	}

	cmd := d.shifted[0]
	switch {
	case cmd&0xE0 == 0x20 && len(d.shifted) > 1:
		addr := cmd & 0x1F
		data := append([]byte(nil), d.shifted[1:]...)
		if addr == regStatus {
			// RX_P_NO and TX_FULL are read-only
			data = []byte{data[0] & 0x70}
		}
		d.regs[addr] = data
		d.writes++
	case cmd == 0x61 && len(d.shifted) > 1 && len(d.rx) > 0:
		d.rx = d.rx[1:]
	case cmd == 0xE2:
		d.rx = nil
	}
}

// Pin is a simulated output line that records every level it was set to.
type Pin struct {
	mu      sync.Mutex
	name    string
	high    bool
	history []bool
	closed  bool
	onSet   func(bool)
	setErr  error
}

// Fail makes every later Set fail with err; nil restores the line.
func (p *Pin) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setErr = err
}

// Set drives the line.
func (p *Pin) Set(high bool) error {
	p.mu.Lock()
	if err := p.setErr; err != nil {
		p.mu.Unlock()
		return err
	}
	p.high = high
	p.history = append(p.history, high)
	onSet := p.onSet
	p.mu.Unlock()

	if onSet != nil {
		onSet(high)
	}
	return nil
}

// Close releases the line.
func (p *Pin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// High reports the current level.
func (p *Pin) High() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high
}

// History returns every level set so far.
func (p *Pin) History() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.history...)
}

// Closed reports whether Close was called.
func (p *Pin) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
