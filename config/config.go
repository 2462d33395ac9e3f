// Package config loads the bridge configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// DefaultPath is read when no -config flag is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Host string `yaml:"host"`
		// WebRoot is served at / when set.
		WebRoot string `yaml:"web_root"`
	} `yaml:"server"`
	Auth struct {
		PasswordHash string `yaml:"password_hash"`
	} `yaml:"auth"`
	LogLevel string `yaml:"log_level"`
	Radio    Radio  `yaml:"radio"`
	Remote   Remote `yaml:"remote"`
	MPD      struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
	} `yaml:"mpd"`
	MQTT    MQTT     `yaml:"mqtt"`
	Plugins []string `yaml:"plugins"`
}

// Radio selects the transceiver hardware and its air settings.
type Radio struct {
	SPIBus       int           `yaml:"spi_bus"`
	SPIChannel   int           `yaml:"spi_channel"`
	SPISpeed     uint32        `yaml:"spi_speed"`
	GPIOChip     string        `yaml:"gpio_chip"`
	CSNPin       int           `yaml:"csn_pin"`
	CEPin        int           `yaml:"ce_pin"`
	Channel      uint8         `yaml:"channel"`
	CRC          bool          `yaml:"crc"`
	CRCLength    int           `yaml:"crc_length"`
	AddressWidth int           `yaml:"address_width"`
	DataRate     string        `yaml:"data_rate"`
	PowerLevel   uint8         `yaml:"power_level"`
	PollInterval time.Duration `yaml:"poll_interval"`
	SelectSettle time.Duration `yaml:"select_settle"`
	DrainLimit   int           `yaml:"drain_limit"`
	QueueSize    int           `yaml:"queue_size"`
	StartupDelay time.Duration `yaml:"startup_delay"`
}

// Remote configures the pipe the remote control sends on.
type Remote struct {
	Pipe            int           `yaml:"pipe"`
	Address         uint64        `yaml:"address"`
	PayloadLength   int           `yaml:"payload_length"`
	AutoAck         bool          `yaml:"auto_ack"`
	QueueSize       int           `yaml:"queue_size"`
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MQTT enables event export when Broker is set.
type MQTT struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	var c Config
	c.Server.Host = "0.0.0.0"
	c.Server.Port = "8080"
	c.Server.WebRoot = "./web"
	c.LogLevel = "info"

	c.Radio = Radio{
		GPIOChip:     "gpiochip0",
		CSNPin:       8,
		CEPin:        25,
		SPISpeed:     1000000,
		Channel:      13,
		CRCLength:    2,
		AddressWidth: 5,
		DataRate:     "2mbps",
		PowerLevel:   3,
		PollInterval: 50 * time.Millisecond,
		SelectSettle: time.Millisecond,
		DrainLimit:   3,
		QueueSize:    4,
		StartupDelay: 100 * time.Millisecond,
	}
	c.Remote = Remote{
		Pipe:            0,
		Address:         0xd1d2d3d2d1,
		PayloadLength:   2,
		QueueSize:       10,
		PollTimeout:     500 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	}
	c.MPD.Address = "localhost:6600"
	c.MQTT.TopicPrefix = "nrf-remote"
	c.Plugins = []string{"radio"}
	return c
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	c.Radio.DataRate = strings.ToLower(c.Radio.DataRate)
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks ranges the driver would otherwise reject at start-up.
func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}

	r := c.Radio
	if r.Channel > 125 {
		return invalid("radio.channel %d out of range (0-125)", r.Channel)
	}
	if r.CRCLength != 1 && r.CRCLength != 2 {
		return invalid("radio.crc_length must be 1 or 2, got %d", r.CRCLength)
	}
	if r.AddressWidth < 3 || r.AddressWidth > 5 {
		return invalid("radio.address_width must be 3-5, got %d", r.AddressWidth)
	}
	switch strings.ToLower(r.DataRate) {
	case "1mbps", "2mbps":
	default:
		return invalid("radio.data_rate must be 1mbps or 2mbps, got %q", r.DataRate)
	}
	if r.PowerLevel > 3 {
		return invalid("radio.power_level must be 0-3, got %d", r.PowerLevel)
	}
	if r.PollInterval <= 0 {
		return invalid("radio.poll_interval must be positive")
	}
	if r.QueueSize < 1 {
		return invalid("radio.queue_size must be at least 1")
	}

	rm := c.Remote
	if rm.Pipe < 0 || rm.Pipe > 5 {
		return invalid("remote.pipe must be 0-5, got %d", rm.Pipe)
	}
	if rm.PayloadLength < 1 || rm.PayloadLength > 32 {
		return invalid("remote.payload_length must be 1-32, got %d", rm.PayloadLength)
	}
	// pipes 2-5 only hold the low address byte
	width := r.AddressWidth
	if rm.Pipe >= 2 {
		width = 1
	}
	if rm.Address>>(8*width) != 0 {
		return invalid("remote.address 0x%X wider than %d bytes for pipe %d", rm.Address, width, rm.Pipe)
	}
	if rm.QueueSize < 1 {
		return invalid("remote.queue_size must be at least 1")
	}

	if c.MQTT.QoS > 2 {
		return invalid("mqtt.qos must be 0-2, got %d", c.MQTT.QoS)
	}
	return nil
}

// Level maps log_level to a slog level.
func (c Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, invalid("unknown log_level %q", c.LogLevel)
	}
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
