package nrf24

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPipeLookup(t *testing.T) {
	dev, _, _ := newTestDevice(t, Config{})

	for n := 0; n < NumPipes; n++ {
		p, err := dev.Pipe(n)
		require.NoError(t, err)
		require.Equal(t, n, p.Number())
		require.Equal(t, DefaultQueueSize, p.Capacity())
	}
	_, err := dev.Pipe(NumPipes)
	require.ErrorIs(t, err, ErrInvalidConfiguration)
	_, err = dev.Pipe(-1)
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	require.Len(t, dev.Pipes(), NumPipes)
}

func TestPipePayloadLength(t *testing.T) {
	dev, sim, _ := newTestDevice(t, Config{})
	p, err := dev.Pipe(2)
	require.NoError(t, err)

	for n := 1; n <= MaxPayload; n++ {
		require.NoError(t, p.SetPayloadLength(n))
		got, err := p.PayloadLength()
		require.NoError(t, err)
		require.Equal(t, n, got)
		require.Equal(t, n, p.frameLength())
	}

	writes := sim.Writes()
	for _, n := range []int{0, MaxPayload + 1, -1} {
		require.ErrorIs(t, p.SetPayloadLength(n), ErrInvalidConfiguration, "length %d", n)
	}
	require.Equal(t, writes, sim.Writes())
	require.Equal(t, MaxPayload, p.frameLength())
}

func TestPipeAddress(t *testing.T) {
	dev, sim, _ := newTestDevice(t, Config{})

	p0, _ := dev.Pipe(0)
	require.NoError(t, p0.SetAddress(0xD1D2D3D2D1))
	addr, err := p0.Address()
	require.NoError(t, err)
	require.EqualValues(t, 0xD1D2D3D2D1, addr)
	require.Equal(t, []byte{0xD1, 0xD2, 0xD3, 0xD2, 0xD1}, sim.Register(RegRxAddrP0))

	p4, _ := dev.Pipe(4)
	require.NoError(t, p4.SetAddress(0x42))
	addr, err = p4.Address()
	require.NoError(t, err)
	require.EqualValues(t, 0x42, addr)

	require.ErrorIs(t, p0.SetAddress(1<<AddressBits), ErrInvalidConfiguration)
}

func TestPipeFlags(t *testing.T) {
	dev, _, _ := newTestDevice(t, Config{})
	p, _ := dev.Pipe(3)

	require.NoError(t, p.SetAutoAck(true))
	on, err := p.AutoAck()
	require.NoError(t, err)
	require.True(t, on)
	require.NoError(t, p.SetAutoAck(false))
	on, err = p.AutoAck()
	require.NoError(t, err)
	require.False(t, on)

	require.NoError(t, p.SetEnabled(true))
	on, err = p.Enabled()
	require.NoError(t, err)
	require.True(t, on)
	others, err := dev.Registers().Get(NameEnRxAddr)
	require.NoError(t, err)
	require.Equal(t, uint8(1<<3), others.Raw)

	require.NoError(t, p.SetDynamicPayload(true))
	on, err = p.DynamicPayload()
	require.NoError(t, err)
	require.True(t, on)
	dpl, err := dev.Registers().Flag(NameFeature, "EN_DPL")
	require.NoError(t, err)
	require.True(t, dpl)
}

func TestPipeQueueDropsNewestWhenFull(t *testing.T) {
	type drop struct {
		pipe  int
		frame Frame
	}
	var drops []drop
	dev, _, _ := newTestDevice(t, Config{
		QueueSizes: map[int]int{1: 2},
		Hooks: Hooks{OnDrop: func(pipe int, frame Frame) {
			drops = append(drops, drop{pipe, frame})
		}},
	})
	p, _ := dev.Pipe(1)
	require.Equal(t, 2, p.Capacity())

	require.True(t, p.ReceiveFromHardware(Frame{'a'}))
	require.True(t, p.ReceiveFromHardware(Frame{'b'}))
	require.False(t, p.ReceiveFromHardware(Frame{'c'}))

	require.Equal(t, []drop{{1, Frame{'c'}}}, drops)
	require.Equal(t, PipeStats{Number: 1, Queued: 2, Capacity: 2, Received: 2, Dropped: 1}, p.Stats())

	require.True(t, p.HasData())
	f, ok := p.Receive()
	require.True(t, ok)
	require.Equal(t, Frame{'a'}, f)
	f, ok = p.Receive()
	require.True(t, ok)
	require.Equal(t, Frame{'b'}, f)

	require.False(t, p.HasData())
	_, ok = p.Receive()
	require.False(t, ok)
}

func TestPipeAwait(t *testing.T) {
	dev, _, _ := newTestDevice(t, Config{})
	p, _ := dev.Pipe(0)

	_, err := p.Await(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrNoData)

	p.ReceiveFromHardware(Frame{'v', 1})
	f, err := p.Await(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, Frame{'v', 1}, f)

	go func() {
		time.Sleep(5 * time.Millisecond)
		p.ReceiveFromHardware(Frame{'p', 0})
	}()
	f, err = p.Await(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, Frame{'p', 0}, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Await(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
