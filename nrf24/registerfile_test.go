package nrf24

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterFileRoundTripsWritableFields(t *testing.T) {
	dev, _, _ := newTestDevice(t, Config{})
	rf := dev.Registers()

	for _, name := range rf.Names() {
		def, err := rf.Definition(name)
		require.NoError(t, err)

		for _, f := range def.Fields {
			if f.Access == ReadOnly {
				continue
			}
			for _, v := range []uint8{f.max(), 0, f.Default} {
				require.NoError(t, rf.SetField(name, f.Name, v), "%s.%s", name, f.Name)
				got, err := rf.Uint(name, f.Name)
				require.NoError(t, err)
				require.Equal(t, v, got, "%s.%s", name, f.Name)
			}
		}
	}
}

func TestRegisterFileFieldWriteKeepsNeighbours(t *testing.T) {
	dev, sim, _ := newTestDevice(t, Config{})
	rf := dev.Registers()

	require.NoError(t, rf.Set(NameSetupRetr, 0x00))
	require.NoError(t, rf.SetField(NameSetupRetr, "ARD", 0xA))
	require.NoError(t, rf.SetField(NameSetupRetr, "ARC", 0x5))
	require.Equal(t, []byte{0xA5}, sim.Register(RegSetupRetr))

	reg, err := rf.Get(NameSetupRetr)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"ARD": uint8(0xA), "ARC": uint8(0x5)}, reg.Values())
}

func TestRegisterFileReadOnlyField(t *testing.T) {
	dev, sim, _ := newTestDevice(t, Config{})
	rf := dev.Registers()

	writes := sim.Writes()
	commands := len(sim.Commands())

	for _, c := range []struct{ reg, field string }{
		{NameStatus, "RX_P_NO"},
		{NameStatus, "TX_FULL"},
		{NameFifoStatus, "RX_EMPTY"},
		{NameObserveTx, "PLOS_CNT"},
		{NameCD, "CD"},
	} {
		err := rf.SetField(c.reg, c.field, 1)
		require.ErrorIs(t, err, ErrReadOnlyField, "%s.%s", c.reg, c.field)
	}

	require.Equal(t, writes, sim.Writes())
	require.Equal(t, commands, len(sim.Commands()))
}

func TestRegisterFileUnknownNames(t *testing.T) {
	dev, _, _ := newTestDevice(t, Config{})
	rf := dev.Registers()

	_, err := rf.Get("NOPE")
	require.ErrorIs(t, err, ErrUnknownRegister)
	require.ErrorIs(t, rf.Set("NOPE", 1), ErrUnknownRegister)
	_, err = rf.Definition("NOPE")
	require.ErrorIs(t, err, ErrUnknownRegister)

	_, err = rf.Field(NameConfig, "NOPE")
	require.ErrorIs(t, err, ErrUnknownField)
	require.ErrorIs(t, rf.SetField(NameConfig, "NOPE", 1), ErrUnknownField)

	_, err = rf.ReadAddress("RX_ADDR_P9")
	require.ErrorIs(t, err, ErrUnknownRegister)
}

func TestRegisterFileValueTooWide(t *testing.T) {
	dev, sim, _ := newTestDevice(t, Config{})
	writes := sim.Writes()

	err := dev.Registers().SetField(NameSetupAW, "AW", 4)
	require.ErrorIs(t, err, ErrInvalidConfiguration)
	require.Equal(t, writes, sim.Writes())
}

func TestRegisterFileStatusDecode(t *testing.T) {
	dev, sim, _ := newTestDevice(t, Config{})
	rf := dev.Registers()

	pipe, err := rf.Uint(NameStatus, "RX_P_NO")
	require.NoError(t, err)
	require.EqualValues(t, pipeNoEmpty, pipe)

	sim.Inject(3, 0xAA)
	pipe, err = rf.Uint(NameStatus, "RX_P_NO")
	require.NoError(t, err)
	require.EqualValues(t, 3, pipe)

	empty, err := rf.Flag(NameFifoStatus, "RX_EMPTY")
	require.NoError(t, err)
	require.False(t, empty)
}

func TestRegisterFileAddressByteOrder(t *testing.T) {
	dev, sim, _ := newTestDevice(t, Config{})
	rf := dev.Registers()

	require.NoError(t, rf.WriteAddress(RxAddrName(1), 0x0102030405))
	require.Equal(t, []byte{0x05, 0x04, 0x03, 0x02, 0x01}, sim.Register(RegRxAddrP1))

	addr, err := rf.ReadAddress(RxAddrName(1))
	require.NoError(t, err)
	require.EqualValues(t, 0x0102030405, addr)

	require.NoError(t, rf.WriteAddress(RxAddrName(2), 0xD3))
	require.Equal(t, []byte{0xD3}, sim.Register(RegRxAddrP2))
	require.ErrorIs(t, rf.WriteAddress(RxAddrName(2), 0x1D3), ErrInvalidConfiguration)
}

func TestRegisterFileDefinitionAndDump(t *testing.T) {
	dev, _, _ := newTestDevice(t, Config{})
	rf := dev.Registers()

	def, err := rf.Definition(NameRfCh)
	require.NoError(t, err)
	require.Equal(t, byte(RegRfCh), def.Address)
	f, ok := def.Field("RF_CH")
	require.True(t, ok)
	require.EqualValues(t, 7, f.Width)
	require.Equal(t, ReadWrite, f.Access)

	regs, err := rf.Dump()
	require.NoError(t, err)
	require.Len(t, regs, len(rf.Names()))
	for i, name := range rf.Names() {
		require.Equal(t, name, regs[i].Name)
		require.Contains(t, RegisterDescriptions, name)
	}
}

func TestFieldValueString(t *testing.T) {
	require.Equal(t, "true", FieldValue{Width: 1, Raw: 1}.String())
	require.Equal(t, "5", FieldValue{Width: 3, Raw: 5}.String())
	require.Equal(t, "ro", ReadOnly.String())
}
