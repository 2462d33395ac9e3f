package nrf24

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Datasheet timings
const (
	// PowerUpDelay is Tpd2stby with an external clock margin.
	PowerUpDelay = 1500 * time.Microsecond
	// SettleDelay is Tstby2a, the RX/TX settling time.
	SettleDelay = 130 * time.Microsecond
	// DefaultSelectSettle brackets every chip-select edge.
	DefaultSelectSettle = time.Millisecond
	// DefaultDrainLimit caps payload reads per DrainRxFIFO call.
	DefaultDrainLimit = 3
	// DefaultQueueSize is the per-pipe queue capacity.
	DefaultQueueSize = 4
)

// State is the transceiver operating mode.
type State int

const (
	PowerDown State = iota
	StandBy
	Rx
	Tx
)

func (s State) String() string {
	switch s {
	case PowerDown:
		return "power_down"
	case StandBy:
		return "standby"
	case Rx:
		return "rx"
	case Tx:
		return "tx"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState maps a state name back to a State.
func ParseState(name string) (State, error) {
	for s := PowerDown; s <= Tx; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return PowerDown, fmt.Errorf("%w: unknown state %q", ErrInvalidConfiguration, name)
}

// Hooks are optional callbacks for driver events. They run on the calling
// goroutine and must not block.
type Hooks struct {
	OnStateChange func(from, to State)
	OnDrop        func(pipe int, frame Frame)
}

// Config holds driver settings. Zero values select the defaults.
type Config struct {
	SelectSettle time.Duration
	DrainLimit   int
	// QueueSizes overrides DefaultQueueSize per pipe number.
	QueueSizes map[int]int
	Logger     *slog.Logger
	Hooks      Hooks

	// sleep replaces time.Sleep in tests.
	sleep func(time.Duration)
}

// Device is an nRF24L01 transceiver on an SPI bus with CSN and CE lines.
type Device struct {
	conn    Conn
	csn, ce Pin
	cfg     Config
	logger  *slog.Logger
	sleep   func(time.Duration)

	busMu  sync.Mutex
	closed bool

	regs *RegisterFile

	stateMu sync.Mutex
	state   State

	pipes [NumPipes]*Pipe
}

// New creates a driver on an already opened bus and pins. CSN is driven
// high and CE low, then the documented defaults are written to the device.
func New(conn Conn, csn, ce Pin, cfg Config) (*Device, error) {
	if cfg.SelectSettle <= 0 {
		cfg.SelectSettle = DefaultSelectSettle
	}
	if cfg.DrainLimit <= 0 {
		cfg.DrainLimit = DefaultDrainLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.sleep == nil {
		cfg.sleep = time.Sleep
	}

	for n, size := range cfg.QueueSizes {
		if n < 0 || n >= NumPipes {
			return nil, fmt.Errorf("%w: queue size for pipe %d", ErrInvalidConfiguration, n)
		}
		if size < 1 {
			return nil, fmt.Errorf("%w: queue size %d for pipe %d", ErrInvalidConfiguration, size, n)
		}
	}

	d := &Device{
		conn:   conn,
		csn:    csn,
		ce:     ce,
		cfg:    cfg,
		logger: cfg.Logger,
		sleep:  cfg.sleep,
		state:  PowerDown,
	}
	d.regs = newRegisterFile(d)

	for n := 0; n < NumPipes; n++ {
		size := DefaultQueueSize
		if s, ok := cfg.QueueSizes[n]; ok {
			size = s
		}
		d.pipes[n] = newPipe(d, n, size)
	}

	if err := d.csn.Set(true); err != nil {
		return nil, &BusError{Op: "release", Err: err}
	}
	if err := d.ce.Set(false); err != nil {
		return nil, fmt.Errorf("failed to clear CE: %w", err)
	}

	if err := d.LoadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	return d, nil
}

// Registers exposes the register file.
func (d *Device) Registers() *RegisterFile {
	return d.regs
}

// LoadDefaults writes the power-on configuration and resets every pipe.
func (d *Device) LoadDefaults() error {
	steps := []struct {
		name string
		raw  uint8
	}{
		{NameStatus, defaultStatus},
		{NameConfig, defaultConfig},
		{NameEnAA, defaultEnAA},
		{NameEnRxAddr, defaultEnRxAddr},
		{NameSetupAW, defaultSetupAW},
		{NameSetupRetr, defaultSetupRetr},
		{NameRfCh, defaultChannel},
		{NameRfSetup, defaultRfSetup},
		{NameDynPD, defaultDynPD},
		{NameFeature, defaultFeature},
	}
	for _, s := range steps {
		if err := d.regs.Set(s.name, s.raw); err != nil {
			return err
		}
	}

	if err := d.regs.WriteAddress(NameTxAddr, defaultAddress); err != nil {
		return err
	}
	if err := d.regs.WriteAddress(RxAddrName(0), defaultAddress); err != nil {
		return err
	}

	for _, p := range d.pipes {
		if err := p.SetPayloadLength(MaxPayload); err != nil {
			return err
		}
	}
	return nil
}

// State returns the recorded operating mode.
func (d *Device) State() State {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state
}

// SetState moves the transceiver to the target mode. Only the datasheet
// transitions are allowed; Rx/Tx to PowerDown passes through StandBy.
func (d *Device) SetState(target State) error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	from := d.state
	switch {
	case from == PowerDown && target == StandBy:
		return d.powerUp()
	case from == StandBy && target == PowerDown:
		return d.powerDown()
	case from == StandBy && target == Rx:
		return d.startRx()
	case from == StandBy && target == Tx:
		return d.startTx()
	case (from == Rx || from == Tx) && target == StandBy:
		return d.standBy()
	case (from == Rx || from == Tx) && target == PowerDown:
		if err := d.standBy(); err != nil {
			return err
		}
		return d.powerDown()
	default:
		return fmt.Errorf("%w: %s -> %s", ErrIllegalStateTransition, from, target)
	}
}

func (d *Device) record(to State) {
	from := d.state
	d.state = to
	d.logger.Debug("Radio state changed", "from", from.String(), "to", to.String())
	if h := d.cfg.Hooks.OnStateChange; h != nil {
		h(from, to)
	}
}

func (d *Device) powerUp() error {
	if err := d.regs.SetFlag(NameConfig, "PWR_UP", true); err != nil {
		return err
	}
	if err := d.ce.Set(false); err != nil {
		return fmt.Errorf("failed to clear CE: %w", err)
	}
	d.sleep(PowerUpDelay)
	d.record(StandBy)
	return nil
}

func (d *Device) powerDown() error {
	if err := d.regs.SetFlag(NameConfig, "PWR_UP", false); err != nil {
		return err
	}
	d.record(PowerDown)
	return nil
}

func (d *Device) startRx() error {
	if err := d.regs.SetFlag(NameConfig, "PRIM_RX", true); err != nil {
		return err
	}
	if err := d.ce.Set(true); err != nil {
		return fmt.Errorf("failed to set CE: %w", err)
	}
	d.record(Rx)
	return nil
}

func (d *Device) startTx() error {
	if err := d.regs.SetFlag(NameConfig, "PRIM_RX", false); err != nil {
		return err
	}
	if err := d.ce.Set(true); err != nil {
		return fmt.Errorf("failed to set CE: %w", err)
	}
	d.sleep(SettleDelay)
	d.record(Tx)
	return nil
}

func (d *Device) standBy() error {
	if err := d.ce.Set(false); err != nil {
		return fmt.Errorf("failed to clear CE: %w", err)
	}
	d.sleep(SettleDelay)
	d.record(StandBy)
	return nil
}

// requireIdle fails unless the radio is in PowerDown or StandBy.
func (d *Device) requireIdle(op string) error {
	if s := d.State(); s != PowerDown && s != StandBy {
		return fmt.Errorf("%w: %s in %s", ErrWrongState, op, s)
	}
	return nil
}

// Channel reads the RF channel.
func (d *Device) Channel() (uint8, error) {
	return d.regs.Uint(NameRfCh, "RF_CH")
}

// SetChannel selects the RF channel (2400 + ch MHz).
func (d *Device) SetChannel(ch uint8) error {
	if ch > MaxChannel {
		return fmt.Errorf("%w: channel %d out of range (0-%d)", ErrInvalidConfiguration, ch, MaxChannel)
	}
	if err := d.requireIdle("set channel"); err != nil {
		return err
	}
	return d.regs.Set(NameRfCh, ch)
}

// WriteField writes one register field for a client outside the state
// machine. PWR_UP and PRIM_RX are refused with ErrWrongState and RF_CH goes
// through SetChannel.
func (d *Device) WriteField(name, field string, value uint8) error {
	switch {
	case name == NameConfig && (field == "PWR_UP" || field == "PRIM_RX"):
		return fmt.Errorf("%w: %s.%s follows the radio state", ErrWrongState, name, field)
	case name == NameRfCh && field == "RF_CH":
		return d.SetChannel(value)
	}
	return d.regs.SetField(name, field, value)
}

// CRCLength returns the CRC length in bytes (CRCO 0 = 1 byte, 1 = 2 bytes).
func (d *Device) CRCLength() (int, error) {
	v, err := d.regs.Uint(NameConfig, "CRCO")
	if err != nil {
		return 0, err
	}
	return int(v) + 1, nil
}

// SetCRC enables or disables the CRC and sets its length in bytes.
func (d *Device) SetCRC(enabled bool, length int) error {
	if length != 1 && length != 2 {
		return fmt.Errorf("%w: CRC length %d", ErrInvalidConfiguration, length)
	}
	if err := d.regs.SetFlag(NameConfig, "EN_CRC", enabled); err != nil {
		return err
	}
	return d.regs.SetField(NameConfig, "CRCO", uint8(length-1))
}

// SetAddressWidth sets the address width to 3, 4 or 5 bytes.
func (d *Device) SetAddressWidth(bytes int) error {
	if bytes < 3 || bytes > 5 {
		return fmt.Errorf("%w: address width %d", ErrInvalidConfiguration, bytes)
	}
	return d.regs.SetField(NameSetupAW, "AW", uint8(bytes-2))
}

// DataRate is the air data rate.
type DataRate uint8

const (
	DataRate1Mbps DataRate = iota
	DataRate2Mbps
)

func (r DataRate) String() string {
	if r == DataRate2Mbps {
		return "2mbps"
	}
	return "1mbps"
}

// SetDataRate writes RF_SETUP.RF_DR.
func (d *Device) SetDataRate(rate DataRate) error {
	if rate > DataRate2Mbps {
		return fmt.Errorf("%w: data rate %d", ErrInvalidConfiguration, rate)
	}
	return d.regs.SetField(NameRfSetup, "RF_DR", uint8(rate))
}

// SetPowerLevel writes RF_SETUP.RF_PWR (0 = -18 dBm ... 3 = 0 dBm).
func (d *Device) SetPowerLevel(level uint8) error {
	if level > 3 {
		return fmt.Errorf("%w: power level %d", ErrInvalidConfiguration, level)
	}
	return d.regs.SetField(NameRfSetup, "RF_PWR", level)
}

// FlushRX empties the hardware RX FIFO.
func (d *Device) FlushRX() error {
	if _, err := d.command(cmdFlushRx); err != nil {
		return fmt.Errorf("failed to flush RX FIFO: %w", err)
	}
	return nil
}

// ClearIRQ clears the RX_DR, TX_DS and MAX_RT flags.
func (d *Device) ClearIRQ() error {
	return d.regs.Set(NameStatus, defaultStatus)
}

// Pipe returns one of the six receive pipes.
func (d *Device) Pipe(n int) (*Pipe, error) {
	if n < 0 || n >= NumPipes {
		return nil, fmt.Errorf("%w: pipe %d", ErrInvalidConfiguration, n)
	}
	return d.pipes[n], nil
}

// Pipes returns all receive pipes in number order.
func (d *Device) Pipes() []*Pipe {
	pipes := make([]*Pipe, NumPipes)
	copy(pipes, d.pipes[:])
	return pipes
}

// Close powers the radio down if needed, then releases the bus and pins.
// Callers must stop all users of the device first.
func (d *Device) Close() error {
	var errs []error

	if d.State() != PowerDown {
		if err := d.SetState(PowerDown); err != nil {
			errs = append(errs, fmt.Errorf("power down: %w", err))
		}
	}

	d.busMu.Lock()
	if d.closed {
		d.busMu.Unlock()
		return nil
	}
	d.closed = true
	d.busMu.Unlock()

	if err := d.ce.Set(false); err != nil {
		errs = append(errs, fmt.Errorf("CE clear error: %w", err))
	}

	if err := d.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("SPI close error: %w", err))
	}
	if err := d.ce.Close(); err != nil {
		errs = append(errs, fmt.Errorf("CE close error: %w", err))
	}
	if err := d.csn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("CSN close error: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}
