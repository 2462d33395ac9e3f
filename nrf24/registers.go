package nrf24

// nRF24L01 register addresses
const (
	RegConfig     = 0x00 // Interrupt masks, CRC, power and primary role
	RegEnAA       = 0x01 // Auto acknowledgement per pipe
	RegEnRxAddr   = 0x02 // Enabled RX pipes
	RegSetupAW    = 0x03 // Address width
	RegSetupRetr  = 0x04 // Automatic retransmission
	RegRfCh       = 0x05 // RF channel
	RegRfSetup    = 0x06 // Data rate, output power, LNA gain
	RegStatus     = 0x07 // IRQ flags, RX pipe number, TX FIFO full
	RegObserveTx  = 0x08 // Lost and retransmitted packet counters
	RegCD         = 0x09 // Carrier detect
	RegRxAddrP0   = 0x0A // RX address pipe 0 (5 bytes)
	RegRxAddrP1   = 0x0B // RX address pipe 1 (5 bytes)
	RegRxAddrP2   = 0x0C // RX address pipe 2 (LSByte only)
	RegRxAddrP3   = 0x0D
	RegRxAddrP4   = 0x0E
	RegRxAddrP5   = 0x0F
	RegTxAddr     = 0x10 // TX address (5 bytes)
	RegRxPwP0     = 0x11 // RX payload width pipe 0; pipes 1-5 follow
	RegFifoStatus = 0x17 // FIFO status
	RegDynPD      = 0x1C // Dynamic payload per pipe
	RegFeature    = 0x1D // Feature enables
)

// Register names used with RegisterFile.
const (
	NameConfig     = "CONFIG"
	NameEnAA       = "EN_AA"
	NameEnRxAddr   = "EN_RXADDR"
	NameSetupAW    = "SETUP_AW"
	NameSetupRetr  = "SETUP_RETR"
	NameRfCh       = "RF_CH"
	NameRfSetup    = "RF_SETUP"
	NameStatus     = "STATUS"
	NameObserveTx  = "OBSERVE_TX"
	NameCD         = "CD"
	NameFifoStatus = "FIFO_STATUS"
	NameDynPD      = "DYNPD"
	NameFeature    = "FEATURE"

	NameTxAddr = "TX_ADDR"
)

const (
	// NumPipes is the number of logical receive pipes.
	NumPipes = 6
	// MaxPayload is the largest static payload width in bytes.
	MaxPayload = 32
	// MaxChannel is the highest RF channel (2400 + 125 MHz).
	MaxChannel = 125
	// AddressBits is the width of a full pipe address.
	AddressBits = 40

	// pipeNoEmpty is the RX_P_NO value reported when the RX FIFO is empty.
	pipeNoEmpty = 7
	// pipeNoUnused is reserved by the datasheet and never routed.
	pipeNoUnused = 6
)

// Access tells whether a field may be written.
type Access uint8

const (
	ReadWrite Access = iota
	ReadOnly
)

func (a Access) String() string {
	if a == ReadOnly {
		return "ro"
	}
	return "rw"
}

// flag is a one-bit read-write field.
func flag(name string, bit uint8) Field {
	return Field{Name: name, Offset: bit, Width: 1}
}

// perPipe returns one read-write bit per pipe, named prefix0..prefix5.
func perPipe(prefix string, defaults uint8) []Field {
	fields := make([]Field, 0, NumPipes)
	for n := uint8(0); n < NumPipes; n++ {
		fields = append(fields, Field{
			Name:    prefix + string('0'+rune(n)),
			Offset:  n,
			Width:   1,
			Default: (defaults >> n) & 1,
		})
	}
	return fields
}

// registerTable builds a fresh copy of the bitfield register table, so
// each RegisterFile owns its own state.
func registerTable() []*Register {
	return []*Register{
		{Name: NameConfig, Address: RegConfig, Fields: []Field{
			flag("MASK_RX_DR", 6),
			flag("MASK_TX_DS", 5),
			flag("MASK_MAX_RT", 4),
			{Name: "EN_CRC", Offset: 3, Width: 1, Default: 1},
			flag("CRCO", 2),
			flag("PWR_UP", 1),
			flag("PRIM_RX", 0),
		}},
		{Name: NameEnAA, Address: RegEnAA, Fields: perPipe("ENAA_P", 0b00111111)},
		{Name: NameEnRxAddr, Address: RegEnRxAddr, Fields: perPipe("ERX_P", 0b00000011)},
		{Name: NameSetupAW, Address: RegSetupAW, Fields: []Field{
			{Name: "AW", Offset: 0, Width: 2, Default: 0b11},
		}},
		{Name: NameSetupRetr, Address: RegSetupRetr, Fields: []Field{
			{Name: "ARD", Offset: 4, Width: 4},
			{Name: "ARC", Offset: 0, Width: 4, Default: 0b0011},
		}},
		{Name: NameRfCh, Address: RegRfCh, Fields: []Field{
			{Name: "RF_CH", Offset: 0, Width: 7, Default: 2},
		}},
		{Name: NameRfSetup, Address: RegRfSetup, Fields: []Field{
			flag("PLL_LOCK", 4),
			{Name: "RF_DR", Offset: 3, Width: 1, Default: 1},
			{Name: "RF_PWR", Offset: 1, Width: 2, Default: 0b11},
			{Name: "LNA_HCURR", Offset: 0, Width: 1, Default: 1},
		}},
		{Name: NameStatus, Address: RegStatus, Fields: []Field{
			flag("RX_DR", 6),
			flag("TX_DS", 5),
			flag("MAX_RT", 4),
			{Name: "RX_P_NO", Offset: 1, Width: 3, Default: 0b111, Access: ReadOnly},
			{Name: "TX_FULL", Offset: 0, Width: 1, Access: ReadOnly},
		}},
		{Name: NameObserveTx, Address: RegObserveTx, Fields: []Field{
			{Name: "PLOS_CNT", Offset: 4, Width: 4, Access: ReadOnly},
			{Name: "ARC_CNT", Offset: 0, Width: 4, Access: ReadOnly},
		}},
		{Name: NameCD, Address: RegCD, Fields: []Field{
			{Name: "CD", Offset: 0, Width: 1, Access: ReadOnly},
		}},
		{Name: NameFifoStatus, Address: RegFifoStatus, Fields: []Field{
			{Name: "TX_REUSE", Offset: 6, Width: 1, Access: ReadOnly},
			{Name: "TX_FULL", Offset: 5, Width: 1, Access: ReadOnly},
			{Name: "TX_EMPTY", Offset: 4, Width: 1, Default: 1, Access: ReadOnly},
			{Name: "RX_FULL", Offset: 1, Width: 1, Access: ReadOnly},
			{Name: "RX_EMPTY", Offset: 0, Width: 1, Default: 1, Access: ReadOnly},
		}},
		{Name: NameDynPD, Address: RegDynPD, Fields: perPipe("DPL_P", 0)},
		{Name: NameFeature, Address: RegFeature, Fields: []Field{
			flag("EN_DPL", 2),
			flag("EN_ACK_PAY", 1),
			flag("EN_DYN_ACK", 0),
		}},
	}
}

// addressRegister describes a multi-byte address pseudo-register.
type addressRegister struct {
	address byte
	width   int
}

var addressRegisters = map[string]addressRegister{
	"RX_ADDR_P0": {RegRxAddrP0, 5},
	"RX_ADDR_P1": {RegRxAddrP1, 5},
	"RX_ADDR_P2": {RegRxAddrP2, 1},
	"RX_ADDR_P3": {RegRxAddrP3, 1},
	"RX_ADDR_P4": {RegRxAddrP4, 1},
	"RX_ADDR_P5": {RegRxAddrP5, 1},
	NameTxAddr:   {RegTxAddr, 5},
}

// RxAddrName returns the address register name for a pipe.
func RxAddrName(pipe int) string {
	return "RX_ADDR_P" + string('0'+rune(pipe))
}

// Power-on values written by LoadDefaults.
const (
	defaultStatus    = 0b01110000 // clear RX_DR, TX_DS, MAX_RT
	defaultConfig    = 0b00001000 // CRC enabled, powered down
	defaultEnAA      = 0b00000000
	defaultEnRxAddr  = 0b00000000
	defaultSetupAW   = 0b00000011 // 5 byte addresses
	defaultSetupRetr = 0b00000011
	defaultChannel   = 2
	defaultRfSetup   = 0b00000111
	defaultDynPD     = 0b00000000
	defaultFeature   = 0b00000000
	defaultAddress   = 0xE7E7E7E7E7
)

// RegisterDescriptions is used by the diagnostics API.
var RegisterDescriptions = map[string]string{
	NameConfig:     "CONFIG - IRQ masks, CRC, power, RX/TX role",
	NameEnAA:       "EN_AA - Auto acknowledgement per pipe",
	NameEnRxAddr:   "EN_RXADDR - Enabled RX pipes",
	NameSetupAW:    "SETUP_AW - Address width",
	NameSetupRetr:  "SETUP_RETR - Auto retransmit delay and count",
	NameRfCh:       "RF_CH - RF channel",
	NameRfSetup:    "RF_SETUP - Data rate, output power, LNA",
	NameStatus:     "STATUS - IRQ flags and RX pipe number",
	NameObserveTx:  "OBSERVE_TX - Packet loss and retransmit counters",
	NameCD:         "CD - Carrier detect",
	NameFifoStatus: "FIFO_STATUS - TX/RX FIFO flags",
	NameDynPD:      "DYNPD - Dynamic payload per pipe",
	NameFeature:    "FEATURE - Dynamic payload and ACK payload enables",
}
