package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linht/nrf-remote/nrf24"
)

// DefaultPollTimeout bounds each wait on an empty pipe.
const DefaultPollTimeout = 500 * time.Millisecond

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("decoder already run")

// Source is a pipe the decoder consumes.
type Source interface {
	Number() int
	Await(ctx context.Context, timeout time.Duration) (nrf24.Frame, error)
}

// Hooks observe the decoder. They must not block.
type Hooks struct {
	OnCommand     func(pipe int, cmd Command)
	OnDecodeError func(pipe int, frame []byte, err error)
	OnPlayerError func(pipe int, cmd Command, err error)
}

// Options configure a Decoder.
type Options struct {
	PollTimeout time.Duration
	Logger      *slog.Logger
	Hooks       Hooks
}

// Decoder reads frames from one pipe and drives the player.
type Decoder struct {
	src    Source
	player Player
	opts   Options
	logger *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool
}

// NewDecoder creates a decoder for src.
func NewDecoder(src Source, player Player, opts Options) *Decoder {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Decoder{
		src:    src,
		player: player,
		opts:   opts,
		logger: opts.Logger.With("pipe", src.Number()),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Stop asks Run to return before the next frame. A player call already in
// progress is left to finish.
func (d *Decoder) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// Done is closed when Run has returned.
func (d *Decoder) Done() <-chan struct{} {
	return d.done
}

func (d *Decoder) stopped() bool {
	select {
	case <-d.stop:
		return true
	default:
		return false
	}
}

// Run consumes frames until Stop is called or ctx is cancelled. It returns
// nil after Stop and ctx.Err() after cancellation. Player calls use ctx.
// A decoder runs once.
func (d *Decoder) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	defer close(d.done)

	// waiting on the pipe also ends on Stop
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.stop:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	d.logger.Info("Remote decoder started")
	for {
		if d.stopped() {
			d.logger.Info("Remote decoder stopped")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := d.src.Await(waitCtx, d.opts.PollTimeout)
		switch {
		case err == nil:
			d.handle(ctx, frame)
		case errors.Is(err, nrf24.ErrNoData):
		case d.stopped():
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return fmt.Errorf("failed to read pipe %d: %w", d.src.Number(), err)
		}
	}
}

func (d *Decoder) handle(ctx context.Context, frame nrf24.Frame) {
	pipe := d.src.Number()
	d.logger.Debug("Frame received", "data", fmt.Sprintf("% X", []byte(frame)))

	cmd, err := Decode(frame)
	if err != nil {
		d.logger.Error("Bad remote command", "data", fmt.Sprintf("% X", []byte(frame)), "error", err)
		if h := d.opts.Hooks.OnDecodeError; h != nil {
			h(pipe, frame, err)
		}
		return
	}

	d.logger.Info("Remote command", "command", cmd.Kind.String(), "arg", cmd.Arg)
	if h := d.opts.Hooks.OnCommand; h != nil {
		h(pipe, cmd)
	}

	if err := Dispatch(ctx, d.player, cmd); err != nil {
		d.logger.Error("Player command failed", "command", cmd.String(), "error", err)
		if h := d.opts.Hooks.OnPlayerError; h != nil {
			h(pipe, cmd, err)
		}
	}
}
