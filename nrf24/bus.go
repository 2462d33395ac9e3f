package nrf24

import (
	"fmt"
)

// SPI commands
const (
	cmdReadRegister  = 0x00
	cmdWriteRegister = 0x20
	cmdReadRxPayload = 0x61
	cmdFlushTx       = 0xE1
	cmdFlushRx       = 0xE2
	cmdNop           = 0xFF

	registerMask = 0x1F
)

// Conn is a full-duplex SPI connection. Tx shifts out w and fills r, which
// must have the same length.
type Conn interface {
	Tx(w, r []byte) error
	Close() error
}

// Pin is a digital output line.
type Pin interface {
	Set(high bool) error
	Close() error
}

// xferFunc performs one transfer inside an open transaction.
type xferFunc func(w []byte) ([]byte, error)

// transaction asserts chip-select, runs fn and always releases chip-select
// again. Transactions are serialised on busMu.
func (d *Device) transaction(fn func(xfer xferFunc) error) (err error) {
	d.busMu.Lock()
	defer d.busMu.Unlock()

	if d.closed {
		return ErrClosed
	}

	if err := d.csn.Set(false); err != nil {
		return &BusError{Op: "select", Err: err}
	}
	d.sleep(d.cfg.SelectSettle)

	defer func() {
		releaseErr := d.csn.Set(true)
		d.sleep(d.cfg.SelectSettle)
		if releaseErr != nil && err == nil {
			err = &BusError{Op: "release", Err: releaseErr}
		}
	}()

	return fn(d.transfer)
}

func (d *Device) transfer(w []byte) ([]byte, error) {
	r := make([]byte, len(w))
	if err := d.conn.Tx(w, r); err != nil {
		return nil, &BusError{Op: "transfer", Err: err}
	}
	return r, nil
}

// command sends a single-byte command and returns the status byte.
func (d *Device) command(cmd byte) (byte, error) {
	var status byte
	err := d.transaction(func(xfer xferFunc) error {
		rx, err := xfer([]byte{cmd})
		if err != nil {
			return err
		}
		status = rx[0]
		return nil
	})
	return status, err
}

// readRegister reads n bytes from a register, LSByte first.
func (d *Device) readRegister(addr byte, n int) ([]byte, error) {
	if n < 1 {
		n = 1
	}
	buf := make([]byte, n+1)
	buf[0] = cmdReadRegister | (addr & registerMask)
	for i := 1; i < len(buf); i++ {
		buf[i] = cmdNop
	}

	var data []byte
	err := d.transaction(func(xfer xferFunc) error {
		rx, err := xfer(buf)
		if err != nil {
			return err
		}
		data = rx[1:]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read register 0x%02X: %w", addr, err)
	}

	d.logger.Debug("Register read", "address", fmt.Sprintf("0x%02X", addr), "data", fmt.Sprintf("% X", data))
	return data, nil
}

// writeRegister writes data to a register, LSByte first.
func (d *Device) writeRegister(addr byte, data []byte) error {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, cmdWriteRegister|(addr&registerMask))
	buf = append(buf, data...)

	err := d.transaction(func(xfer xferFunc) error {
		_, err := xfer(buf)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write register 0x%02X: %w", addr, err)
	}

	d.logger.Debug("Register write", "address", fmt.Sprintf("0x%02X", addr), "data", fmt.Sprintf("% X", data))
	return nil
}
