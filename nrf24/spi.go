package nrf24

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// DefaultSPISpeed is used when no bus speed is configured.
const DefaultSPISpeed = 1000000

// SPIBus is a Conn on a Linux spidev port via periph.io
type SPIBus struct {
	conn   spi.Conn
	port   spi.PortCloser
	device string
	speed  physic.Frequency
}

// SPIDevicePath returns the spidev node for a bus and chip-select channel.
func SPIDevicePath(bus, channel int) string {
	return fmt.Sprintf("/dev/spidev%d.%d", bus, channel)
}

// OpenSPI opens /dev/spidev<bus>.<channel>
func OpenSPI(bus, channel int, speedHz uint32) (*SPIBus, error) {
	if speedHz == 0 {
		speedHz = DefaultSPISpeed
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io: %w", err)
	}

	device := SPIDevicePath(bus, channel)
	port, err := spireg.Open(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI device %s: %w", device, err)
	}

	// nRF24L01 uses SPI Mode 0 (CPOL=0, CPHA=0), MSBit first
	speed := physic.Frequency(speedHz) * physic.Hertz
	conn, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to connect to SPI device: %w", err)
	}

	return &SPIBus{
		conn:   conn,
		port:   port,
		device: device,
		speed:  speed,
	}, nil
}

// Tx performs a full-duplex transfer
func (s *SPIBus) Tx(w, r []byte) error {
	if len(w) != len(r) {
		return fmt.Errorf("tx and rx buffers must be the same length")
	}
	if s.conn == nil {
		return fmt.Errorf("SPI device not open")
	}
	if err := s.conn.Tx(w, r); err != nil {
		return fmt.Errorf("SPI transfer failed: %w", err)
	}
	return nil
}

// Close closes the SPI port
func (s *SPIBus) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.conn = nil
	return err
}

func (s *SPIBus) String() string {
	if s.conn == nil {
		return fmt.Sprintf("Device: %s (closed)", s.device)
	}
	return fmt.Sprintf("Device: %s, Speed: %s", s.device, s.speed)
}
