package nrf24

import (
	"fmt"
)

// DrainRxFIFO moves received payloads from the hardware RX FIFO into the
// pipe queues. It stops when the status byte reports an empty FIFO or
// after limit payloads (the configured DrainLimit when limit <= 0), so a
// single call never holds the bus for long. The radio must be in Rx.
func (d *Device) DrainRxFIFO(limit int) (int, error) {
	if s := d.State(); s != Rx {
		return 0, fmt.Errorf("%w: drain RX FIFO in %s", ErrWrongState, s)
	}
	if limit <= 0 {
		limit = d.cfg.DrainLimit
	}

	routed := 0
	for i := 0; i < limit; i++ {
		pipe, frame, err := d.readRxPayload()
		if err != nil {
			return routed, err
		}
		if pipe == nil {
			break
		}
		pipe.ReceiveFromHardware(frame)
		routed++
	}
	return routed, nil
}

// readRxPayload pops one payload. A nil pipe means nothing was read.
func (d *Device) readRxPayload() (*Pipe, Frame, error) {
	var (
		pipe  *Pipe
		frame Frame
	)

	err := d.transaction(func(xfer xferFunc) error {
		rx, err := xfer([]byte{cmdReadRxPayload})
		if err != nil {
			return err
		}

		number := int(rx[0]>>1) & 0b111
		switch number {
		case pipeNoEmpty:
			d.logger.Debug("RX FIFO empty")
			return nil
		case pipeNoUnused:
			d.logger.Warn("RX FIFO reported reserved pipe number", "status", fmt.Sprintf("0x%02X", rx[0]))
			return nil
		}

		p := d.pipes[number]
		buf := make([]byte, p.frameLength())
		for i := range buf {
			buf[i] = cmdNop
		}
		data, err := xfer(buf)
		if err != nil {
			return err
		}

		pipe, frame = p, Frame(data)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read RX payload: %w", err)
	}

	if pipe != nil {
		d.logger.Debug("RX payload read", "pipe", pipe.number, "bytes", len(frame))
	}
	return pipe, frame, nil
}
