package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns the program as assembly source. Each instruction is on
// its own line indented four spaces, preceded by a "LABEL name" line for every
// label bound at its address. The output parses back to an equal Program.
func Disassemble(p *Program) string {
	var sb strings.Builder
	idx := p.labelIndex()

	for addr := 0; addr <= len(p.Instructions); addr++ {
		for _, name := range idx[addr] {
			sb.WriteString("LABEL ")
			sb.WriteString(FormatName(name))
			sb.WriteByte('\n')
		}
		if addr < len(p.Instructions) {
			sb.WriteString("    ")
			sb.WriteString(p.Instructions[addr].String())
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}

// Listing returns a human-readable listing with addresses and stack effects,
// e.g.
//
//	; 5 instructions, 1 label
//	0000  PUSHI 0
//	      L0:
//	0001  STORE_IMM i          ; -1
//
// It is meant for inspection and is not valid assembly.
func Listing(p *Program) string {
	var sb strings.Builder
	idx := p.labelIndex()

	fmt.Fprintf(&sb, "; %d instructions, %d labels\n", len(p.Instructions), p.LabelCount())

	for addr := 0; addr <= len(p.Instructions); addr++ {
		for _, name := range idx[addr] {
			fmt.Fprintf(&sb, "      %s:\n", name)
		}
		if addr == len(p.Instructions) {
			break
		}
		in := p.Instructions[addr]
		line := fmt.Sprintf("%04d  %s", addr, in)
		if effect := in.Op.StackEffect(); effect != "" {
			line = fmt.Sprintf("%-32s ; %s", line, effect)
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}

	return sb.String()
}

// StackEffect renders the net data-stack change of op as "+n" or "-n".
// It is "" when the change is zero and "?" when it depends on a native handler.
func (op Opcode) StackEffect() string {
	info := GetOpcodeInfo(op)
	if info.StackPop < 0 || info.StackPush < 0 {
		return "?"
	}
	switch n := info.StackPush - info.StackPop; {
	case n > 0:
		return fmt.Sprintf("+%d", n)
	case n < 0:
		return fmt.Sprintf("%d", n)
	default:
		return ""
	}
}
