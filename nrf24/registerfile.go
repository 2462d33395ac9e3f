package nrf24

import (
	"fmt"
	"sync"
)

// Field is a named bit range inside a register.
type Field struct {
	Name    string
	Offset  uint8
	Width   uint8
	Default uint8
	Access  Access
}

func (f Field) mask() uint8 {
	return uint8((1<<f.Width)-1) << f.Offset
}

func (f Field) max() uint8 {
	return uint8((1 << f.Width) - 1)
}

// Register is a snapshot of one bitfield register.
type Register struct {
	Name    string
	Address byte
	Fields  []Field
	Raw     uint8
}

// Field looks up a field definition by name.
func (r Register) Field(name string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Value decodes a field from the raw value.
func (r Register) Value(name string) (FieldValue, error) {
	f, ok := r.Field(name)
	if !ok {
		return FieldValue{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, r.Name, name)
	}
	return FieldValue{Width: f.Width, Raw: (r.Raw & f.mask()) >> f.Offset}, nil
}

// Values decodes all fields, booleans for one-bit fields.
func (r Register) Values() map[string]interface{} {
	values := make(map[string]interface{}, len(r.Fields))
	for _, f := range r.Fields {
		v := FieldValue{Width: f.Width, Raw: (r.Raw & f.mask()) >> f.Offset}
		if v.IsFlag() {
			values[f.Name] = v.Bool()
		} else {
			values[f.Name] = v.Uint()
		}
	}
	return values
}

// FieldValue is a decoded bitfield.
type FieldValue struct {
	Width uint8
	Raw   uint8
}

// IsFlag reports whether the field is a single bit.
func (v FieldValue) IsFlag() bool { return v.Width == 1 }

func (v FieldValue) Bool() bool  { return v.Raw != 0 }
func (v FieldValue) Uint() uint8 { return v.Raw }

func (v FieldValue) String() string {
	if v.IsFlag() {
		return fmt.Sprintf("%t", v.Bool())
	}
	return fmt.Sprintf("%d", v.Raw)
}

type registerBus interface {
	readRegister(addr byte, n int) ([]byte, error)
	writeRegister(addr byte, data []byte) error
}

// RegisterFile gives named access to the device registers. Every read is
// a bus transaction; the in-memory raw values only record the last value
// seen or written.
type RegisterFile struct {
	bus   registerBus
	mu    sync.Mutex
	order []string
	regs  map[string]*Register

	// rmw serialises read-modify-write cycles across callers.
	rmw sync.Mutex
}

func newRegisterFile(bus registerBus) *RegisterFile {
	rf := &RegisterFile{
		bus:  bus,
		regs: make(map[string]*Register),
	}
	for _, reg := range registerTable() {
		for _, f := range reg.Fields {
			reg.Raw |= f.Default << f.Offset
		}
		rf.regs[reg.Name] = reg
		rf.order = append(rf.order, reg.Name)
	}
	return rf
}

// Names lists the bitfield registers in address order.
func (rf *RegisterFile) Names() []string {
	names := make([]string, len(rf.order))
	copy(names, rf.order)
	return names
}

// Definition returns the register layout and last known raw value
// without touching the bus.
func (rf *RegisterFile) Definition(name string) (Register, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	reg, ok := rf.regs[name]
	if !ok {
		return Register{}, fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	return rf.snapshot(reg), nil
}

func (rf *RegisterFile) snapshot(reg *Register) Register {
	fields := make([]Field, len(reg.Fields))
	copy(fields, reg.Fields)
	return Register{Name: reg.Name, Address: reg.Address, Fields: fields, Raw: reg.Raw}
}

func (rf *RegisterFile) lookup(name string) (*Register, error) {
	reg, ok := rf.regs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	return reg, nil
}

// Get reads a register from the device.
func (rf *RegisterFile) Get(name string) (Register, error) {
	reg, err := rf.lookup(name)
	if err != nil {
		return Register{}, err
	}

	data, err := rf.bus.readRegister(reg.Address, 1)
	if err != nil {
		return Register{}, err
	}

	rf.mu.Lock()
	defer rf.mu.Unlock()
	reg.Raw = data[0]
	return rf.snapshot(reg), nil
}

// Set writes a raw value to a register.
func (rf *RegisterFile) Set(name string, raw uint8) error {
	reg, err := rf.lookup(name)
	if err != nil {
		return err
	}

	if err := rf.bus.writeRegister(reg.Address, []byte{raw}); err != nil {
		return err
	}

	rf.mu.Lock()
	reg.Raw = raw
	rf.mu.Unlock()
	return nil
}

// Field reads a register and decodes one field.
func (rf *RegisterFile) Field(name, field string) (FieldValue, error) {
	reg, err := rf.lookup(name)
	if err != nil {
		return FieldValue{}, err
	}
	if _, ok := reg.Field(field); !ok {
		return FieldValue{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, name, field)
	}

	snap, err := rf.Get(name)
	if err != nil {
		return FieldValue{}, err
	}
	return snap.Value(field)
}

// Flag reads a one-bit field.
func (rf *RegisterFile) Flag(name, field string) (bool, error) {
	v, err := rf.Field(name, field)
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

// Uint reads a field as an unsigned integer.
func (rf *RegisterFile) Uint(name, field string) (uint8, error) {
	v, err := rf.Field(name, field)
	if err != nil {
		return 0, err
	}
	return v.Uint(), nil
}

// SetField performs a read-modify-write of one field. Read-only fields and
// out-of-range values are rejected before the bus is touched.
func (rf *RegisterFile) SetField(name, field string, value uint8) error {
	reg, err := rf.lookup(name)
	if err != nil {
		return err
	}
	f, ok := reg.Field(field)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, name, field)
	}
	if f.Access == ReadOnly {
		return fmt.Errorf("%w: %s.%s", ErrReadOnlyField, name, field)
	}
	if value > f.max() {
		return fmt.Errorf("%w: %s.%s value %d exceeds %d bits", ErrInvalidConfiguration, name, field, value, f.Width)
	}

	rf.rmw.Lock()
	defer rf.rmw.Unlock()

	current, err := rf.Get(name)
	if err != nil {
		return err
	}

	raw := (current.Raw &^ f.mask()) | (value << f.Offset)
	return rf.Set(name, raw)
}

// SetFlag writes a one-bit field.
func (rf *RegisterFile) SetFlag(name, field string, on bool) error {
	var v uint8
	if on {
		v = 1
	}
	return rf.SetField(name, field, v)
}

// Dump reads every bitfield register.
func (rf *RegisterFile) Dump() ([]Register, error) {
	regs := make([]Register, 0, len(rf.order))
	for _, name := range rf.order {
		reg, err := rf.Get(name)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// ReadAddress reads an RX_ADDR_Pn or TX_ADDR register. Bytes arrive
// LSByte first.
func (rf *RegisterFile) ReadAddress(name string) (uint64, error) {
	ar, ok := addressRegisters[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}

	data, err := rf.bus.readRegister(ar.address, ar.width)
	if err != nil {
		return 0, err
	}

	var addr uint64
	for i := len(data) - 1; i >= 0; i-- {
		addr = addr<<8 | uint64(data[i])
	}
	return addr, nil
}

// WriteAddress writes an address register, LSByte first.
func (rf *RegisterFile) WriteAddress(name string, addr uint64) error {
	ar, ok := addressRegisters[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	if addr>>(8*ar.width) != 0 {
		return fmt.Errorf("%w: address 0x%X does not fit %s (%d bytes)", ErrInvalidConfiguration, addr, name, ar.width)
	}

	data := make([]byte, ar.width)
	for i := range data {
		data[i] = byte(addr >> (8 * i))
	}
	return rf.bus.writeRegister(ar.address, data)
}

// ReadPayloadWidth reads RX_PW_Pn.
func (rf *RegisterFile) ReadPayloadWidth(pipe int) (uint8, error) {
	if pipe < 0 || pipe >= NumPipes {
		return 0, fmt.Errorf("%w: pipe %d", ErrInvalidConfiguration, pipe)
	}
	data, err := rf.bus.readRegister(RegRxPwP0+byte(pipe), 1)
	if err != nil {
		return 0, err
	}
	return data[0] & 0x3F, nil
}

// WritePayloadWidth writes RX_PW_Pn. Zero marks the pipe unused.
func (rf *RegisterFile) WritePayloadWidth(pipe int, width uint8) error {
	if pipe < 0 || pipe >= NumPipes {
		return fmt.Errorf("%w: pipe %d", ErrInvalidConfiguration, pipe)
	}
	if width > MaxPayload {
		return fmt.Errorf("%w: payload width %d", ErrInvalidConfiguration, width)
	}
	return rf.bus.writeRegister(RegRxPwP0+byte(pipe), []byte{width})
}
