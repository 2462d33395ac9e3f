package nrf24

import (
	"errors"
	"testing"

	"github.com/linht/nrf-remote/nrf24/nrf24test"
	"github.com/stretchr/testify/require"
)

func newRxDevice(t *testing.T, cfg Config) (*Device, *nrf24test.Device) {
	t.Helper()
	dev, sim, _ := newTestDevice(t, cfg)
	require.NoError(t, dev.SetState(StandBy))
	require.NoError(t, dev.SetState(Rx))
	return dev, sim
}

func TestDrainRequiresRx(t *testing.T) {
	dev, sim, _ := newTestDevice(t, Config{})
	sim.Inject(0, 1, 2)

	_, err := dev.DrainRxFIFO(0)
	require.ErrorIs(t, err, ErrWrongState)
	require.Equal(t, 1, sim.Pending())
}

func TestDrainRoutesByPipe(t *testing.T) {
	dev, sim := newRxDevice(t, Config{})
	p0, _ := dev.Pipe(0)
	p1, _ := dev.Pipe(1)
	require.NoError(t, p0.SetPayloadLength(2))
	require.NoError(t, p1.SetPayloadLength(3))

	sim.Inject(0, 'v', 0xF6)
	sim.Inject(1, 'a', 'b', 'c')
	sim.Inject(0, 'p', 0)

	n, err := dev.DrainRxFIFO(0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Zero(t, sim.Pending())

	f, ok := p0.Receive()
	require.True(t, ok)
	require.Equal(t, Frame{'v', 0xF6}, f)
	f, ok = p0.Receive()
	require.True(t, ok)
	require.Equal(t, Frame{'p', 0}, f)
	f, ok = p1.Receive()
	require.True(t, ok)
	require.Equal(t, Frame{'a', 'b', 'c'}, f)
}

func TestDrainStopsWhenEmpty(t *testing.T) {
	dev, sim := newRxDevice(t, Config{})
	p0, _ := dev.Pipe(0)
	require.NoError(t, p0.SetPayloadLength(2))
	sim.Inject(0, 'x', 5)

	before := sim.CountCommand(cmdReadRxPayload)
	n, err := dev.DrainRxFIFO(3)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 2, sim.CountCommand(cmdReadRxPayload)-before)

	n, err = dev.DrainRxFIFO(3)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDrainHonoursLimit(t *testing.T) {
	dev, sim := newRxDevice(t, Config{DrainLimit: 1})
	p0, _ := dev.Pipe(0)
	require.NoError(t, p0.SetPayloadLength(1))
	sim.Inject(0, 1)
	sim.Inject(0, 2)
	sim.Inject(0, 3)

	n, err := dev.DrainRxFIFO(0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 2, sim.Pending())

	n, err = dev.DrainRxFIFO(2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Zero(t, sim.Pending())

	var got []byte
	for {
		f, ok := p0.Receive()
		if !ok {
			break
		}
		got = append(got, f...)
	}
	require.Equal(t, []byte{1, 2, 3}, got)
}

func TestDrainSkipsReservedPipe(t *testing.T) {
	dev, sim := newRxDevice(t, Config{})
	sim.Inject(pipeNoUnused, 9)

	n, err := dev.DrainRxFIFO(3)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 1, sim.Pending())
}

func TestDrainDropsWhenQueueFull(t *testing.T) {
	dev, sim := newRxDevice(t, Config{QueueSizes: map[int]int{0: 1}})
	p0, _ := dev.Pipe(0)
	require.NoError(t, p0.SetPayloadLength(1))
	sim.Inject(0, 1)
	sim.Inject(0, 2)

	n, err := dev.DrainRxFIFO(0)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	stats := p0.Stats()
	require.EqualValues(t, 1, stats.Received)
	require.EqualValues(t, 1, stats.Dropped)
	f, ok := p0.Receive()
	require.True(t, ok)
	require.Equal(t, Frame{1}, f)
}

func TestDrainReturnsBusError(t *testing.T) {
	dev, sim := newRxDevice(t, Config{})
	sim.Inject(0, 1)
	sim.FailTx(errors.New("bus stuck"))

	n, err := dev.DrainRxFIFO(0)
	require.Zero(t, n)
	var busErr *BusError
	require.ErrorAs(t, err, &busErr)
}
