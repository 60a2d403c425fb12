package bytecode

import (
	"fmt"
	"slices"
)

// Program is a decoded unit: a dense instruction sequence (index = address)
// plus a label table mapping names to addresses.
//
// Labels are zero-width anchors. A label bound to Len() is legal and denotes
// the position past the last instruction. The table remembers the order in
// which names were first bound; the optimizer numbers labels in that order and
// the encoder emits them in it.
type Program struct {
	Instructions []Instruction

	labels map[string]int
	order  []string
}

// NewProgram creates a program holding the given instructions and no labels.
func NewProgram(instrs ...Instruction) *Program {
	return &Program{
		Instructions: instrs,
		labels:       make(map[string]int),
	}
}

// Len returns the number of instructions.
func (p *Program) Len() int {
	return len(p.Instructions)
}

// Emit appends an instruction and returns its address.
func (p *Program) Emit(in Instruction) int {
	addr := len(p.Instructions)
	p.Instructions = append(p.Instructions, in)
	return addr
}

// Mark binds name to the address the next emitted instruction will occupy.
func (p *Program) Mark(name string) int {
	addr := len(p.Instructions)
	p.Bind(name, addr)
	return addr
}

// Bind binds name to addr. Rebinding an existing name moves it to the new
// address but keeps its original position in definition order.
func (p *Program) Bind(name string, addr int) {
	if p.labels == nil {
		p.labels = make(map[string]int)
	}
	if _, exists := p.labels[name]; !exists {
		p.order = append(p.order, name)
	}
	p.labels[name] = addr
}

// Lookup returns the address bound to name.
func (p *Program) Lookup(name string) (int, bool) {
	addr, ok := p.labels[name]
	return addr, ok
}

// LabelCount returns the number of labels.
func (p *Program) LabelCount() int {
	return len(p.labels)
}

// LabelNames returns the label names in definition order.
func (p *Program) LabelNames() []string {
	return slices.Clone(p.order)
}

// Labels returns a copy of the label table.
func (p *Program) Labels() map[string]int {
	m := make(map[string]int, len(p.labels))
	for name, addr := range p.labels {
		m[name] = addr
	}
	return m
}

// LabelsAt returns the names bound to addr, in definition order.
func (p *Program) LabelsAt(addr int) []string {
	var names []string
	for _, name := range p.order {
		if p.labels[name] == addr {
			names = append(names, name)
		}
	}
	return names
}

// labelIndex maps each address to its labels in definition order.
func (p *Program) labelIndex() map[int][]string {
	idx := make(map[int][]string, len(p.labels))
	for _, name := range p.order {
		addr := p.labels[name]
		idx[addr] = append(idx[addr], name)
	}
	return idx
}

// Clone returns a deep copy of the program.
func (p *Program) Clone() *Program {
	c := &Program{
		Instructions: slices.Clone(p.Instructions),
		labels:       p.Labels(),
		order:        slices.Clone(p.order),
	}
	return c
}

// Validate checks that every label addresses an instruction or the end of
// the program, and that no pseudo-op was stored as an instruction.
func (p *Program) Validate() error {
	for _, name := range p.order {
		addr := p.labels[name]
		if addr < 0 || addr > len(p.Instructions) {
			return fmt.Errorf("label %q: %w: %d not in [0, %d]", name, ErrBadLabel, addr, len(p.Instructions))
		}
	}
	for addr, in := range p.Instructions {
		if !in.Op.IsValid() {
			return fmt.Errorf("instruction %04d: %w 0x%02X", addr, ErrUnknownOpcode, byte(in.Op))
		}
		if in.Op.IsPseudo() {
			return fmt.Errorf("instruction %04d: %w", addr, ErrPseudoOpcode)
		}
	}
	return nil
}

// Equal reports whether two programs have identical instructions and label tables.
// Label definition order is not compared.
func (p *Program) Equal(o *Program) bool {
	if !slices.Equal(p.Instructions, o.Instructions) || len(p.labels) != len(o.labels) {
		return false
	}
	for name, addr := range p.labels {
		if other, ok := o.labels[name]; !ok || other != addr {
			return false
		}
	}
	return true
}
