// Package remote turns two-byte radio frames into media player actions.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// FrameLength is the size of one wire command: an ASCII letter followed by
// a signed argument.
const FrameLength = 2

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNotASCII       = errors.New("command byte is not ASCII")
	ErrFrameLength    = errors.New("wrong frame length")
)

// Kind identifies a remote command.
type Kind uint8

const (
	VolumeDelta Kind = iota + 1
	Toggle
	TrackSkip
)

func (k Kind) String() string {
	switch k {
	case VolumeDelta:
		return "volume"
	case Toggle:
		return "toggle"
	case TrackSkip:
		return "track"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Command is a decoded frame. Arg is ignored for Toggle.
type Command struct {
	Kind Kind
	Arg  int8
}

func (c Command) String() string {
	if c.Kind == Toggle {
		return c.Kind.String()
	}
	return fmt.Sprintf("%s %+d", c.Kind, c.Arg)
}

// Decode parses one frame.
func Decode(frame []byte) (Command, error) {
	if len(frame) != FrameLength {
		return Command{}, fmt.Errorf("%w: %d bytes", ErrFrameLength, len(frame))
	}

	code, arg := frame[0], int8(frame[1])
	if code > 0x7F {
		return Command{}, fmt.Errorf("%w: 0x%02X", ErrNotASCII, code)
	}

	switch code {
	case 'v':
		return Command{Kind: VolumeDelta, Arg: arg}, nil
	case 'p':
		return Command{Kind: Toggle}, nil
	case 't':
		return Command{Kind: TrackSkip, Arg: arg}, nil
	default:
		return Command{}, fmt.Errorf("%w: %q (%d)", ErrUnknownCommand, code, arg)
	}
}

// Player is the media player the commands act on.
type Player interface {
	IncrVolume(ctx context.Context, delta int8) error
	TogglePlayPause(ctx context.Context) error
	// SkipTracks skips forward for positive n and backward for negative n.
	SkipTracks(ctx context.Context, n int8) error
}

// Dispatch runs cmd against p. A track skip of zero does nothing.
func Dispatch(ctx context.Context, p Player, cmd Command) error {
	switch cmd.Kind {
	case VolumeDelta:
		return p.IncrVolume(ctx, cmd.Arg)
	case Toggle:
		return p.TogglePlayPause(ctx)
	case TrackSkip:
		if cmd.Arg == 0 {
			return nil
		}
		return p.SkipTracks(ctx, cmd.Arg)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind)
	}
}
