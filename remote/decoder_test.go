package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/linht/nrf-remote/nrf24"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	frames chan nrf24.Frame
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan nrf24.Frame, 16)}
}

func (s *fakeSource) Number() int { return 0 }

func (s *fakeSource) Await(ctx context.Context, timeout time.Duration) (nrf24.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-s.frames:
		return f, nil
	case <-timer.C:
		return nil, nrf24.ErrNoData
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type call struct {
	op  string
	arg int8
}

type fakePlayer struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (p *fakePlayer) record(op string, arg int8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{op, arg})
	return p.err
}

func (p *fakePlayer) IncrVolume(_ context.Context, delta int8) error {
	return p.record("volume", delta)
}

func (p *fakePlayer) TogglePlayPause(context.Context) error {
	return p.record("toggle", 0)
}

func (p *fakePlayer) SkipTracks(_ context.Context, n int8) error {
	return p.record("skip", n)
}

func (p *fakePlayer) Calls() []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]call(nil), p.calls...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecode(t *testing.T) {
	cases := []struct {
		frame []byte
		want  Command
		err   error
	}{
		{[]byte{'v', 0xF6}, Command{Kind: VolumeDelta, Arg: -10}, nil},
		{[]byte{'v', 5}, Command{Kind: VolumeDelta, Arg: 5}, nil},
		{[]byte{'p', 0}, Command{Kind: Toggle}, nil},
		{[]byte{'p', 42}, Command{Kind: Toggle}, nil},
		{[]byte{'t', 3}, Command{Kind: TrackSkip, Arg: 3}, nil},
		{[]byte{'t', 0xFE}, Command{Kind: TrackSkip, Arg: -2}, nil},
		{[]byte{'x', 5}, Command{}, ErrUnknownCommand},
		{[]byte{0xC3, 1}, Command{}, ErrNotASCII},
		{[]byte{'v'}, Command{}, ErrFrameLength},
		{[]byte{'v', 1, 2}, Command{}, ErrFrameLength},
		{nil, Command{}, ErrFrameLength},
	}

	for _, c := range cases {
		got, err := Decode(c.frame)
		if c.err != nil {
			require.ErrorIs(t, err, c.err, "frame % X", c.frame)
			continue
		}
		require.NoError(t, err, "frame % X", c.frame)
		require.Equal(t, c.want, got)
	}
}

func TestDispatch(t *testing.T) {
	p := &fakePlayer{}
	ctx := context.Background()

	require.NoError(t, Dispatch(ctx, p, Command{Kind: VolumeDelta, Arg: -10}))
	require.NoError(t, Dispatch(ctx, p, Command{Kind: Toggle}))
	require.NoError(t, Dispatch(ctx, p, Command{Kind: TrackSkip, Arg: 0}))
	require.NoError(t, Dispatch(ctx, p, Command{Kind: TrackSkip, Arg: -3}))
	require.ErrorIs(t, Dispatch(ctx, p, Command{}), ErrUnknownCommand)

	require.Equal(t, []call{{"volume", -10}, {"toggle", 0}, {"skip", -3}}, p.Calls())
}

func TestDecoderScenarios(t *testing.T) {
	src := newFakeSource()
	player := &fakePlayer{}

	var mu sync.Mutex
	var decodeErrs []error
	var commands []Command
	dec := NewDecoder(src, player, Options{
		PollTimeout: 5 * time.Millisecond,
		Logger:      quietLogger(),
		Hooks: Hooks{
			OnCommand: func(_ int, cmd Command) {
				mu.Lock()
				defer mu.Unlock()
				commands = append(commands, cmd)
			},
			OnDecodeError: func(_ int, _ []byte, err error) {
				mu.Lock()
				defer mu.Unlock()
				decodeErrs = append(decodeErrs, err)
			},
		},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- dec.Run(context.Background()) }()

	src.frames <- nrf24.Frame{'v', 0xF6}
	src.frames <- nrf24.Frame{'x', 5}
	src.frames <- nrf24.Frame{'p', 0}
	src.frames <- nrf24.Frame{'t', 0}
	src.frames <- nrf24.Frame{'t', 2}

	want := []call{{"volume", -10}, {"toggle", 0}, {"skip", 2}}
	require.Eventually(t, func() bool {
		return len(player.Calls()) == len(want)
	}, time.Second, time.Millisecond)
	require.Equal(t, want, player.Calls())

	dec.Stop()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("decoder did not stop")
	}
	<-dec.Done()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, decodeErrs, 1)
	require.ErrorIs(t, decodeErrs[0], ErrUnknownCommand)
	require.Len(t, commands, 4)
}

func TestDecoderStopInterruptsWait(t *testing.T) {
	dec := NewDecoder(newFakeSource(), &fakePlayer{}, Options{
		PollTimeout: time.Hour,
		Logger:      quietLogger(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- dec.Run(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	dec.Stop()
	dec.Stop()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("decoder did not stop")
	}
}

func TestDecoderCancel(t *testing.T) {
	dec := NewDecoder(newFakeSource(), &fakePlayer{}, Options{
		PollTimeout: time.Hour,
		Logger:      quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- dec.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("decoder did not return")
	}
}

func TestDecoderSurvivesPlayerErrors(t *testing.T) {
	src := newFakeSource()
	player := &fakePlayer{err: errors.New("mpd unreachable")}

	var failures int
	var mu sync.Mutex
	dec := NewDecoder(src, player, Options{
		PollTimeout: 5 * time.Millisecond,
		Logger:      quietLogger(),
		Hooks: Hooks{OnPlayerError: func(int, Command, error) {
			mu.Lock()
			defer mu.Unlock()
			failures++
		}},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- dec.Run(context.Background()) }()

	src.frames <- nrf24.Frame{'v', 1}
	src.frames <- nrf24.Frame{'p', 0}

	require.Eventually(t, func() bool {
		return len(player.Calls()) == 2
	}, time.Second, time.Millisecond)

	dec.Stop()
	require.NoError(t, <-errCh)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, failures)
}

func TestDecoderRunsOnce(t *testing.T) {
	dec := NewDecoder(newFakeSource(), &fakePlayer{}, Options{
		PollTimeout: time.Hour,
		Logger:      quietLogger(),
	})
	dec.Stop()
	require.NoError(t, dec.Run(context.Background()))

	require.ErrorIs(t, dec.Run(context.Background()), ErrAlreadyRun)
	select {
	case <-dec.Done():
	default:
		t.Fatal("done not closed")
	}
}
