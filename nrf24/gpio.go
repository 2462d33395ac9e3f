package nrf24

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// OutputLine is a Pin backed by a GPIO character device line.
type OutputLine struct {
	line   *gpiocdev.Line
	chip   string
	offset int
}

// RequestOutput requests a line as an output with the given initial level.
func RequestOutput(chip string, offset int, initial bool, consumer string) (*OutputLine, error) {
	value := 0
	if initial {
		value = 1
	}

	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(value),
		gpiocdev.WithConsumer(consumer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to request %s pin %d on %s: %w", consumer, offset, chip, err)
	}

	return &OutputLine{line: line, chip: chip, offset: offset}, nil
}

// Set drives the line.
func (o *OutputLine) Set(high bool) error {
	if o.line == nil {
		return fmt.Errorf("GPIO line %d not initialized", o.offset)
	}

	value := 0
	if high {
		value = 1
	}
	if err := o.line.SetValue(value); err != nil {
		return fmt.Errorf("failed to set pin %d to %v: %w", o.offset, high, err)
	}
	return nil
}

// Close releases the line.
func (o *OutputLine) Close() error {
	if o.line == nil {
		return nil
	}
	err := o.line.Close()
	o.line = nil
	if err != nil {
		return fmt.Errorf("failed to close pin %d: %w", o.offset, err)
	}
	return nil
}

func (o *OutputLine) String() string {
	return fmt.Sprintf("GPIO: %s line %d", o.chip, o.offset)
}

// Hardware selects the bus and control lines for Open.
type Hardware struct {
	SPIBus     int
	SPIChannel int
	SPISpeed   uint32
	GPIOChip   string
	CSNPin     int
	CEPin      int
}

// Open opens the SPI bus and both control lines and returns a driver.
// Everything opened so far is released again on failure.
func Open(hw Hardware, cfg Config) (*Device, error) {
	if hw.GPIOChip == "" {
		hw.GPIOChip = "gpiochip0"
	}

	bus, err := OpenSPI(hw.SPIBus, hw.SPIChannel, hw.SPISpeed)
	if err != nil {
		return nil, err
	}

	// CSN is active low, idle high
	csn, err := RequestOutput(hw.GPIOChip, hw.CSNPin, true, "nrf24-csn")
	if err != nil {
		bus.Close()
		return nil, err
	}

	ce, err := RequestOutput(hw.GPIOChip, hw.CEPin, false, "nrf24-ce")
	if err != nil {
		csn.Close()
		bus.Close()
		return nil, err
	}

	dev, err := New(bus, csn, ce, cfg)
	if err != nil {
		ce.Close()
		csn.Close()
		bus.Close()
		return nil, err
	}
	return dev, nil
}
