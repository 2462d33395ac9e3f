// Package mpd drives a Music Player Daemon for the remote commands.
package mpd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	gompd "github.com/fhs/gompd/v2/mpd"
)

// DefaultAddress is the MPD control socket.
const DefaultAddress = "localhost:6600"

// conn is the part of *mpd.Client the player uses.
type conn interface {
	Status() (gompd.Attrs, error)
	SetVolume(volume int) error
	Pause(pause bool) error
	Play(pos int) error
	Close() error
}

type dialFunc func() (conn, error)

// Player implements remote.Player on one MPD connection. Calls are
// serialised; a failed call drops the connection and the next one dials
// again.
type Player struct {
	mu     sync.Mutex
	dial   dialFunc
	conn   conn
	logger *slog.Logger
}

// New creates a player for address. The connection is opened lazily.
func New(address, password string, logger *slog.Logger) *Player {
	if address == "" {
		address = DefaultAddress
	}
	if logger == nil {
		logger = slog.Default()
	}
	return newPlayer(func() (conn, error) {
		if password != "" {
			return gompd.DialAuthenticated("tcp", address, password)
		}
		return gompd.Dial("tcp", address)
	}, logger.With("mpd", address))
}

func newPlayer(dial dialFunc, logger *slog.Logger) *Player {
	return &Player{dial: dial, logger: logger}
}

type result struct {
	conn conn
	err  error
}

// do runs fn with a live connection and the current status. MPD calls
// have no deadline of their own, so they run in a goroutine; when ctx ends
// first the connection is abandoned and closed once the call returns.
func (p *Player) do(ctx context.Context, fn func(c conn, status gompd.Attrs) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	done := make(chan result, 1)
	go func(c conn) {
		if c == nil {
			var err error
			if c, err = p.dial(); err != nil {
				done <- result{err: fmt.Errorf("failed to connect to MPD: %w", err)}
				return
			}
			p.logger.Info("Connected to MPD")
		}
		status, err := c.Status()
		if err == nil {
			err = fn(c, status)
		}
		done <- result{conn: c, err: err}
	}(p.conn)

	select {
	case r := <-done:
		p.conn = r.conn
		if r.err != nil {
			if p.conn != nil {
				p.logger.Warn("MPD command failed, dropping connection", "error", r.err)
				p.conn.Close()
				p.conn = nil
			}
			return r.err
		}
		return nil
	case <-ctx.Done():
		p.logger.Warn("MPD command abandoned", "error", ctx.Err())
		p.conn = nil
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return ctx.Err()
	}
}

// IncrVolume changes the volume by delta percent, clamped to 0-100.
func (p *Player) IncrVolume(ctx context.Context, delta int8) error {
	return p.do(ctx, func(c conn, status gompd.Attrs) error {
		current, err := intAttr(status, "volume", 0)
		if err != nil {
			return err
		}
		volume := clamp(current+int(delta), 0, 100)
		p.logger.Debug("Set volume", "from", current, "to", volume)
		return c.SetVolume(volume)
	})
}

// TogglePlayPause pauses while playing and resumes otherwise.
func (p *Player) TogglePlayPause(ctx context.Context) error {
	return p.do(ctx, func(c conn, status gompd.Attrs) error {
		switch state := status["state"]; state {
		case "play":
			return c.Pause(true)
		case "pause":
			return c.Pause(false)
		case "stop":
			return c.Play(-1)
		default:
			return fmt.Errorf("unexpected player state %q", state)
		}
	})
}

// SkipTracks moves n songs forward or backward within the playlist.
func (p *Player) SkipTracks(ctx context.Context, n int8) error {
	if n == 0 {
		return nil
	}
	return p.do(ctx, func(c conn, status gompd.Attrs) error {
		length, err := intAttr(status, "playlistlength", 0)
		if err != nil {
			return err
		}
		if length == 0 {
			p.logger.Debug("Playlist empty, skip ignored")
			return nil
		}
		song, err := intAttr(status, "song", 0)
		if err != nil {
			return err
		}
		return c.Play(clamp(song+int(n), 0, length-1))
	})
}

// Close drops the connection.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

func intAttr(status gompd.Attrs, key string, def int) (int, error) {
	s, ok := status[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad %s in MPD status: %q", key, s)
	}
	return v, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
