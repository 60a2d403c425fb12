package bytecode

import (
	"strconv"
)

// Optimize runs the optimization passes over a copy of p and returns the copy.
// p is not modified.
//
//  1. ElideStoreLoad rewrites STORE_IMM x; LOAD_IMM x into DUP; STORE_IMM x.
//  2. CanonicalizeLabels renames labels to "0", "1", ... in definition order.
func Optimize(p *Program) (*Program, error) {
	out := p.Clone()
	ElideStoreLoad(out)
	if err := CanonicalizeLabels(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ElideStoreLoad rewrites each adjacent STORE_IMM x; LOAD_IMM x pair into
// DUP; STORE_IMM x in place and returns the number of pairs rewritten.
//
// The window is exactly two instructions. A pair is skipped when a label is
// bound at the LOAD_IMM, since a jump there expects the load to happen; this
// is stricter than rewriting every adjacent pair.
// The instruction count is unchanged, so no label moves.
func ElideStoreLoad(p *Program) int {
	var targets map[int]bool
	if len(p.labels) > 0 {
		targets = make(map[int]bool, len(p.labels))
		for _, addr := range p.labels {
			targets[addr] = true
		}
	}

	rewritten := 0
	for i := 1; i < len(p.Instructions); i++ {
		prev, cur := p.Instructions[i-1], p.Instructions[i]
		if prev.Op != OpStoreImm || cur.Op != OpLoadImm || prev.Text != cur.Text {
			continue
		}
		if targets[i] {
			continue
		}
		p.Instructions[i-1] = Op(OpDup)
		p.Instructions[i] = StoreImm(prev.Text)
		rewritten++
		// The rewritten STORE_IMM may not pair with a following LOAD_IMM.
		i++
	}
	return rewritten
}

// CanonicalizeLabels renames every label to the decimal string of its index in
// definition order and rewrites JMP, JMPIF and CALL operands to match. Label
// addresses are preserved. CALLNATIVE names handlers, not labels, and is left
// alone. A branch to a missing label fails with *OptimizeError and leaves p
// unchanged.
func CanonicalizeLabels(p *Program) error {
	rename := make(map[string]string, len(p.order))
	for i, name := range p.order {
		rename[name] = strconv.Itoa(i)
	}

	for addr, in := range p.Instructions {
		if !in.Op.IsBranch() {
			continue
		}
		if _, ok := rename[in.Text]; !ok {
			return &OptimizeError{Addr: addr, Instr: in, Label: in.Text}
		}
	}

	for addr, in := range p.Instructions {
		if in.Op.IsBranch() {
			p.Instructions[addr].Text = rename[in.Text]
		}
	}

	labels := make(map[string]int, len(p.order))
	order := make([]string, len(p.order))
	for i, name := range p.order {
		key := rename[name]
		labels[key] = p.labels[name]
		order[i] = key
	}
	p.labels = labels
	p.order = order
	return nil
}
