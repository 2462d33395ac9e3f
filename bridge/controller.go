// Package bridge runs the radio: it configures the transceiver for the
// remote, polls the RX FIFO and feeds the command decoder.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/linht/nrf-remote/config"
	"github.com/linht/nrf-remote/events"
	"github.com/linht/nrf-remote/nrf24"
	"github.com/linht/nrf-remote/remote"
)

// Radio is the driver surface the controller needs.
type Radio interface {
	State() nrf24.State
	SetState(nrf24.State) error
	SetCRC(enabled bool, length int) error
	SetDataRate(nrf24.DataRate) error
	SetPowerLevel(level uint8) error
	SetAddressWidth(bytes int) error
	SetChannel(ch uint8) error
	Pipe(n int) (*nrf24.Pipe, error)
	FlushRX() error
	ClearIRQ() error
	DrainRxFIFO(limit int) (int, error)
}

// Controller owns the radio for the lifetime of Run.
type Controller struct {
	radio  Radio
	player remote.Player
	cfg    config.Config
	hub    *events.Hub
	logger *slog.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	running  bool
	lastErr  error
	polls    uint64
	received uint64
}

// New creates a controller. hub may be nil.
func New(radio Radio, player remote.Player, cfg config.Config, hub *events.Hub, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		radio:  radio,
		player: player,
		cfg:    cfg,
		hub:    hub,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DriverHooks returns driver hooks that publish to hub. Pass them in
// nrf24.Config when opening the device.
func DriverHooks(hub *events.Hub) nrf24.Hooks {
	if hub == nil {
		return nrf24.Hooks{}
	}
	return nrf24.Hooks{
		OnStateChange: func(from, to nrf24.State) {
			hub.Publish(events.NewStateChange(from.String(), to.String()))
		},
		OnDrop: func(pipe int, frame nrf24.Frame) {
			hub.Publish(events.NewQueueDrop(pipe, len(frame)))
		},
	}
}

// DriverConfig builds the driver settings for cfg, including the larger
// queue of the remote pipe.
func DriverConfig(cfg config.Config, hub *events.Hub, logger *slog.Logger) nrf24.Config {
	sizes := make(map[int]int, nrf24.NumPipes)
	for n := 0; n < nrf24.NumPipes; n++ {
		sizes[n] = cfg.Radio.QueueSize
	}
	sizes[cfg.Remote.Pipe] = cfg.Remote.QueueSize

	return nrf24.Config{
		SelectSettle: cfg.Radio.SelectSettle,
		DrainLimit:   cfg.Radio.DrainLimit,
		QueueSizes:   sizes,
		Logger:       logger,
		Hooks:        DriverHooks(hub),
	}
}

// Hardware maps the radio section to the driver's pin and bus selection.
func Hardware(r config.Radio) nrf24.Hardware {
	return nrf24.Hardware{
		SPIBus:     r.SPIBus,
		SPIChannel: r.SPIChannel,
		SPISpeed:   r.SPISpeed,
		GPIOChip:   r.GPIOChip,
		CSNPin:     r.CSNPin,
		CEPin:      r.CEPin,
	}
}

func (c *Controller) decoderHooks() remote.Hooks {
	if c.hub == nil {
		return remote.Hooks{}
	}
	return remote.Hooks{
		OnCommand: func(pipe int, cmd remote.Command) {
			c.hub.Publish(events.NewCommand(pipe, cmd.Kind.String(), cmd.Arg))
		},
		OnDecodeError: func(pipe int, frame []byte, err error) {
			c.hub.Publish(events.NewDecodeError(pipe, frame, err))
		},
		OnPlayerError: func(pipe int, cmd remote.Command, err error) {
			c.hub.Publish(events.NewPlayerError(pipe, cmd.String(), err))
		},
	}
}

// Setup brings the radio from PowerDown into Rx with the remote pipe
// configured.
func (c *Controller) Setup(ctx context.Context) (*nrf24.Pipe, error) {
	r, rm := c.cfg.Radio, c.cfg.Remote

	if s := c.radio.State(); s != nrf24.StandBy {
		if err := c.radio.SetState(nrf24.StandBy); err != nil {
			return nil, fmt.Errorf("failed to power up radio: %w", err)
		}
	}

	rate := nrf24.DataRate1Mbps
	if strings.EqualFold(r.DataRate, "2mbps") {
		rate = nrf24.DataRate2Mbps
	}
	steps := []struct {
		name string
		fn   func() error
	}{
		{"crc", func() error { return c.radio.SetCRC(r.CRC, r.CRCLength) }},
		{"data rate", func() error { return c.radio.SetDataRate(rate) }},
		{"power level", func() error { return c.radio.SetPowerLevel(r.PowerLevel) }},
		{"address width", func() error { return c.radio.SetAddressWidth(r.AddressWidth) }},
		{"channel", func() error { return c.radio.SetChannel(r.Channel) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", s.name, err)
		}
	}

	pipe, err := c.radio.Pipe(rm.Pipe)
	if err != nil {
		return nil, err
	}
	if err := pipe.SetAddress(rm.Address); err != nil {
		return nil, fmt.Errorf("failed to set remote address: %w", err)
	}
	if err := pipe.SetPayloadLength(rm.PayloadLength); err != nil {
		return nil, fmt.Errorf("failed to set remote payload length: %w", err)
	}
	if err := pipe.SetAutoAck(rm.AutoAck); err != nil {
		return nil, fmt.Errorf("failed to set remote auto-ack: %w", err)
	}
	if err := pipe.SetEnabled(true); err != nil {
		return nil, fmt.Errorf("failed to enable remote pipe: %w", err)
	}

	if err := c.sleep(ctx, r.StartupDelay); err != nil {
		return nil, err
	}

	if err := c.radio.FlushRX(); err != nil {
		return nil, err
	}
	if err := c.radio.ClearIRQ(); err != nil {
		return nil, err
	}
	if err := c.radio.SetState(nrf24.Rx); err != nil {
		return nil, fmt.Errorf("failed to start receiving: %w", err)
	}

	c.logger.Info("Radio listening",
		"channel", r.Channel,
		"pipe", rm.Pipe,
		"address", fmt.Sprintf("0x%010X", rm.Address),
		"payload", rm.PayloadLength)
	return pipe, nil
}

// Run sets the radio up, starts the decoder and polls the RX FIFO until
// ctx is cancelled or a bus error occurs. The radio is powered down
// before Run returns; the caller closes the device afterwards.
func (c *Controller) Run(ctx context.Context) error {
	pipe, err := c.Setup(ctx)
	if err != nil {
		c.powerDown()
		return err
	}

	decoder := remote.NewDecoder(pipe, c.player, remote.Options{
		PollTimeout: c.cfg.Remote.PollTimeout,
		Logger:      c.logger,
		Hooks:       c.decoderHooks(),
	})

	c.mu.Lock()
	c.running = true
	c.lastErr = nil
	c.mu.Unlock()

	decodeCtx, cancelDecode := context.WithCancel(context.Background())
	defer cancelDecode()
	go func() {
		if err := decoder.Run(decodeCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("Remote decoder failed", "error", err)
		}
	}()

	runErr := c.poll(ctx)

	c.shutdown(decoder, cancelDecode)
	c.powerDown()

	c.mu.Lock()
	c.running = false
	c.lastErr = runErr
	c.mu.Unlock()
	return runErr
}

func (c *Controller) poll(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Radio.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := c.radio.DrainRxFIFO(c.cfg.Radio.DrainLimit)
		c.mu.Lock()
		c.polls++
		c.received += uint64(n)
		c.mu.Unlock()
		if err != nil {
			c.logger.Error("RX FIFO drain failed", "error", err)
			return err
		}
	}
}

// shutdown stops the decoder and waits for it, cancelling in-flight work
// once the timeout expires. The wait after cancelling is bounded too.
func (c *Controller) shutdown(decoder *remote.Decoder, cancel context.CancelFunc) {
	decoder.Stop()

	timeout := c.cfg.Remote.ShutdownTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-decoder.Done():
		return
	case <-t.C:
		c.logger.Warn("Remote decoder did not stop in time, cancelling", "timeout", timeout)
	}
	cancel()

	// the decoder never touches the bus, so the radio can be released
	// even if a player call ignores cancellation
	t.Reset(timeout)
	select {
	case <-decoder.Done():
	case <-t.C:
		c.logger.Error("Remote decoder still busy after cancel, abandoning it", "timeout", timeout)
	}
}

func (c *Controller) powerDown() {
	if c.radio.State() == nrf24.PowerDown {
		return
	}
	if err := c.radio.SetState(nrf24.PowerDown); err != nil {
		c.logger.Error("Failed to power down radio", "error", err)
		return
	}
	c.logger.Info("Radio powered down")
}

// Status is a snapshot for the diagnostics API.
type Status struct {
	Running  bool   `json:"running"`
	State    string `json:"state"`
	Polls    uint64 `json:"polls"`
	Received uint64 `json:"received"`
	Error    string `json:"error,omitempty"`
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Running:  c.running,
		State:    c.radio.State().String(),
		Polls:    c.polls,
		Received: c.received,
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	return s
}
