package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/linht/nrf-remote/bridge"
	"github.com/linht/nrf-remote/config"
	"github.com/linht/nrf-remote/events"
	"github.com/linht/nrf-remote/mpd"
	"github.com/linht/nrf-remote/nrf24"
	"github.com/linht/nrf-remote/plugins"
)

// Server timeouts
const (
	ServerReadTimeout  = 30 * time.Second
	ServerWriteTimeout = 30 * time.Second
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err, "path", *configPath)
		os.Exit(1)
	}

	// Setup structured logging
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Info("Configuration loaded", "path", *configPath)

	if err := run(cfg, logger); err != nil {
		slog.Error("Bridge stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub(logger)
	defer hub.Close()

	dev, err := nrf24.Open(bridge.Hardware(cfg.Radio), bridge.DriverConfig(cfg, hub, logger))
	if err != nil {
		return err
	}
	slog.Info("Radio opened",
		"spi", nrf24.SPIDevicePath(cfg.Radio.SPIBus, cfg.Radio.SPIChannel),
		"gpio_chip", cfg.Radio.GPIOChip,
		"csn_pin", cfg.Radio.CSNPin,
		"ce_pin", cfg.Radio.CEPin)

	player := mpd.New(cfg.MPD.Address, cfg.MPD.Password, logger)
	defer player.Close()

	var wg sync.WaitGroup

	if cfg.MQTT.Broker != "" {
		exporter, err := events.DialMQTT(events.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
		}, logger)
		if err != nil {
			// events are optional, the remote keeps working without them
			slog.Warn("MQTT export disabled", "error", err)
		} else {
			defer exporter.Close()
			sub := hub.Subscribe(events.DefaultBuffer)
			wg.Add(1)
			go func() {
				defer wg.Done()
				exporter.Run(ctx, sub)
			}()
		}
	}

	ctrl := bridge.New(dev, player, cfg, hub, logger)

	app := fiber.New(fiber.Config{
		ReadTimeout:           ServerReadTimeout,
		WriteTimeout:          ServerWriteTimeout,
		AppName:               "nRF24 Remote Bridge",
		DisableStartupMessage: true,
	})
	app.Use(fiberLogger.New(fiberLogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))

	if cfg.Server.WebRoot != "" {
		app.Static("/", cfg.Server.WebRoot)
	}

	if cfg.Auth.PasswordHash != "" {
		plugins.NewAuth(cfg.Auth.PasswordHash).RegisterRoutes(app)
	} else {
		slog.Warn("No password hash configured, API is unauthenticated")
	}

	loaded, err := initPlugins(app, cfg, plugins.RadioDeps{Device: dev, Controller: ctrl, Hub: hub})
	if err != nil {
		dev.Close()
		return err
	}

	ctrlErr := make(chan error, 1)
	go func() { ctrlErr <- ctrl.Run(ctx) }()

	serverErr := make(chan error, 1)
	go func() {
		addr := cfg.Addr()
		slog.Info("Starting nRF24 remote bridge", "address", addr)
		serverErr <- app.Listen(addr)
	}()

	var runErr error
	select {
	case runErr = <-ctrlErr:
		stop()
	case <-ctx.Done():
		runErr = <-ctrlErr
	case err := <-serverErr:
		slog.Error("Failed to start server", "error", err)
		stop()
		runErr = errors.Join(err, <-ctrlErr)
	}

	slog.Info("Shutting down server...")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
	for _, p := range loaded {
		if err := p.Shutdown(); err != nil {
			slog.Error("Plugin shutdown error", "name", p.Name(), "error", err)
		}
	}

	// the controller has stopped using the bus
	if err := dev.Close(); err != nil {
		slog.Error("Radio close error", "error", err)
	}
	wg.Wait()
	return runErr
}

func initPlugins(app *fiber.App, cfg config.Config, radio plugins.RadioDeps) ([]plugins.Plugin, error) {
	var loaded []plugins.Plugin
	for _, name := range cfg.Plugins {
		factory, exists := plugins.Get(name)
		if !exists {
			slog.Warn("Unknown plugin", "name", name, "available", plugins.Names())
			continue
		}

		// Get plugin-specific config
		var pluginConfig interface{}
		switch name {
		case "radio":
			pluginConfig = radio
		}

		plugin, err := factory(pluginConfig)
		if err != nil {
			return nil, err
		}

		plugin.RegisterRoutes(app)
		loaded = append(loaded, plugin)
		slog.Info("Plugin loaded", "name", plugin.Name())
	}
	return loaded, nil
}
