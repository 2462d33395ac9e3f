package plugins

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/linht/nrf-remote/bridge"
	"github.com/linht/nrf-remote/events"
	"github.com/linht/nrf-remote/nrf24"
)

// EventBuffer is the per-client event queue of the websocket stream.
const EventBuffer = 64

// RadioDeps is the config passed to the radio plugin factory.
type RadioDeps struct {
	Device     *nrf24.Device
	Controller *bridge.Controller
	Hub        *events.Hub
}

// RadioPlugin exposes transceiver diagnostics and the live event stream.
// The controller keeps ownership of the radio state; field writes that
// would change it are refused.
type RadioPlugin struct {
	dev  *nrf24.Device
	ctrl *bridge.Controller
	hub  *events.Hub
}

// NewRadioPlugin creates a new radio plugin instance
func NewRadioPlugin(deps RadioDeps) (*RadioPlugin, error) {
	if deps.Device == nil {
		return nil, fmt.Errorf("radio plugin needs a device")
	}
	return &RadioPlugin{dev: deps.Device, ctrl: deps.Controller, hub: deps.Hub}, nil
}

// Name returns the plugin identifier
func (p *RadioPlugin) Name() string {
	return "radio"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *RadioPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/radio")

	api.Get("/status", p.handleStatus)
	api.Get("/pipes", p.handlePipes)

	api.Get("/registers", p.handleReadAllRegisters)
	api.Get("/registers/:name", p.handleReadRegister)
	api.Put("/registers/:name/:field", p.handleWriteField)

	if p.hub != nil {
		api.Use("/events", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		api.Get("/events", websocket.New(p.handleEvents))
	}

	slog.Info("Radio plugin routes registered")
}

// Shutdown performs cleanup
func (p *RadioPlugin) Shutdown() error {
	// the device is closed by main after the controller stops
	return nil
}

func (p *RadioPlugin) handleStatus(c *fiber.Ctx) error {
	ch, err := p.dev.Channel()
	if err != nil {
		return SendError(c, StatusFor(err), err)
	}
	crc, err := p.dev.CRCLength()
	if err != nil {
		return SendError(c, StatusFor(err), err)
	}
	crcOn, err := p.dev.Registers().Flag(nrf24.NameConfig, "EN_CRC")
	if err != nil {
		return SendError(c, StatusFor(err), err)
	}

	data := map[string]interface{}{
		"state":      p.dev.State().String(),
		"channel":    ch,
		"frequency":  fmt.Sprintf("%d MHz", 2400+int(ch)),
		"crc":        crcOn,
		"crc_length": crc,
	}
	if p.ctrl != nil {
		data["controller"] = p.ctrl.Status()
	}
	if p.hub != nil {
		published, missed := p.hub.Stats()
		data["events"] = map[string]interface{}{
			"published":   published,
			"missed":      missed,
			"subscribers": p.hub.Subscribers(),
		}
	}
	return SendSuccess(c, data, "")
}

type pipeView struct {
	nrf24.PipeStats
	Address       string `json:"address"`
	PayloadLength int    `json:"payload_length"`
	Enabled       bool   `json:"enabled"`
	AutoAck       bool   `json:"auto_ack"`
	Dynamic       bool   `json:"dynamic_payload"`
}

func (p *RadioPlugin) handlePipes(c *fiber.Ctx) error {
	views := make([]pipeView, 0, nrf24.NumPipes)
	for _, pipe := range p.dev.Pipes() {
		v := pipeView{PipeStats: pipe.Stats()}

		addr, err := pipe.Address()
		if err != nil {
			return SendError(c, StatusFor(err), err)
		}
		v.Address = fmt.Sprintf("0x%X", addr)

		if v.PayloadLength, err = pipe.PayloadLength(); err != nil {
			return SendError(c, StatusFor(err), err)
		}
		if v.Enabled, err = pipe.Enabled(); err != nil {
			return SendError(c, StatusFor(err), err)
		}
		if v.AutoAck, err = pipe.AutoAck(); err != nil {
			return SendError(c, StatusFor(err), err)
		}
		if v.Dynamic, err = pipe.DynamicPayload(); err != nil {
			return SendError(c, StatusFor(err), err)
		}
		views = append(views, v)
	}

	return SendSuccess(c, map[string]interface{}{
		"pipes": views,
		"count": len(views),
	}, "")
}

func registerView(reg nrf24.Register) map[string]interface{} {
	desc := nrf24.RegisterDescriptions[reg.Name]
	if desc == "" {
		desc = "Unknown"
	}

	var readOnly []string
	for _, f := range reg.Fields {
		if f.Access == nrf24.ReadOnly {
			readOnly = append(readOnly, f.Name)
		}
	}

	return map[string]interface{}{
		"name":        reg.Name,
		"address":     fmt.Sprintf("0x%02X", reg.Address),
		"value":       fmt.Sprintf("0x%02X", reg.Raw),
		"value_dec":   reg.Raw,
		"description": desc,
		"fields":      reg.Values(),
		"read_only":   readOnly,
	}
}

func (p *RadioPlugin) handleReadAllRegisters(c *fiber.Ctx) error {
	regs, err := p.dev.Registers().Dump()
	if err != nil {
		return SendError(c, StatusFor(err), err)
	}

	regList := make([]map[string]interface{}, 0, len(regs))
	for _, reg := range regs {
		regList = append(regList, registerView(reg))
	}

	return SendSuccess(c, map[string]interface{}{
		"registers": regList,
		"count":     len(regList),
	}, "")
}

func (p *RadioPlugin) handleReadRegister(c *fiber.Ctx) error {
	reg, err := p.dev.Registers().Get(c.Params("name"))
	if err != nil {
		return SendError(c, StatusFor(err), err)
	}
	return SendSuccess(c, registerView(reg), "")
}

func (p *RadioPlugin) handleWriteField(c *fiber.Ctx) error {
	name, field := c.Params("name"), c.Params("field")

	var req struct {
		Value *uint8 `json:"value"`
	}
	if err := c.BodyParser(&req); err != nil || req.Value == nil {
		return SendErrorMessage(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if err := p.dev.WriteField(name, field, *req.Value); err != nil {
		return SendError(c, StatusFor(err), err)
	}

	reg, err := p.dev.Registers().Get(name)
	if err != nil {
		return SendError(c, StatusFor(err), err)
	}

	slog.Info("Register field write", "register", name, "field", field, "value", *req.Value)
	return SendSuccess(c, registerView(reg), "Field written successfully")
}

// handleEvents streams hub events as JSON. ?type= limits the stream to one
// event type.
func (p *RadioPlugin) handleEvents(c *websocket.Conn) {
	filter := events.Type(c.Query("type"))

	sub := p.hub.Subscribe(EventBuffer)
	defer sub.Close()
	slog.Info("Event stream opened", "subscriber", sub.ID, "filter", string(filter))

	// the read side only detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if filter != "" && ev.Type != filter {
				continue
			}
			if err := c.WriteJSON(ev); err != nil {
				slog.Debug("Event stream write failed", "subscriber", sub.ID, "error", err)
				return
			}
		case <-gone:
			slog.Info("Event stream closed", "subscriber", sub.ID)
			return
		}
	}
}

func init() {
	Register("radio", func(config interface{}) (Plugin, error) {
		deps, ok := config.(RadioDeps)
		if !ok {
			return nil, fmt.Errorf("invalid config for radio plugin: expected RadioDeps")
		}
		return NewRadioPlugin(deps)
	})
}
