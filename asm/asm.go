// Package asm implements the vvm assembly language: a line-oriented text form
// of bytecode.Program.
//
// Each non-blank line holds one mnemonic and at most one operand:
//
//	# count to ten
//	    PUSHI 0
//	    STORE_IMM i
//	LABEL loop
//	    LOAD_IMM i
//	    ADDI 1
//	    ...
//
// Mnemonics are those printed by bytecode.Instruction.String, so the output of
// bytecode.Disassemble assembles back to the same program. Lines starting
// with '#' are comments. PUSHS takes either a Go-quoted string or the raw
// rest of the line, in which "\n" stands for a newline. A quoted PUSHS
// operand pushes its unquoted contents, so `PUSHS "hi"` pushes hi; write
// PUSHS "\"hi\"" to keep the quotes. Names are bare words, or Go-quoted when
// they hold spaces or are empty. For compatibility, EXIT, LOAD, STORE and FREE
// with an operand mean their _IMM forms.
package asm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vcokltfre/vvm/pkg/bytecode"
)

// Statement is one parsed source line.
type Statement struct {
	Pos        Position        // Position of the mnemonic
	Mnemonic   string          // Mnemonic as written
	Op         bytecode.Opcode // Resolved opcode, after compatibility mapping
	Operand    string          // Raw operand text, "" if none
	OperandPos Position        // Position of the operand
	Addr       int             // Instruction address; for LABEL, the bound address
}

// Unit is the result of parsing a source file. Program holds every
// instruction that parsed; when Errors is non-empty it is incomplete.
type Unit struct {
	Program    *bytecode.Program
	Statements []Statement
	Labels     map[string]Position // Label definitions
	Errors     ErrorList
}

// Parse assembles src into a Program. All syntax errors in the file are
// reported together as an ErrorList.
func Parse(src string) (*bytecode.Program, error) {
	u := ParseUnit(src)
	if err := u.Errors.Err(); err != nil {
		return nil, err
	}
	return u.Program, nil
}

// Assemble assembles src into bytecode.
func Assemble(src string) ([]byte, error) {
	p, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return bytecode.Encode(p)
}

// compat maps mnemonics that take an operand only in their _IMM form.
var compat = map[bytecode.Opcode]bytecode.Opcode{
	bytecode.OpExit:  bytecode.OpExitImmediate,
	bytecode.OpLoad:  bytecode.OpLoadImm,
	bytecode.OpStore: bytecode.OpStoreImm,
	bytecode.OpFree:  bytecode.OpFreeImm,
}

// ParseUnit parses src, keeping going after errors so that tools can report
// every problem and still inspect the statements that did parse.
func ParseUnit(src string) *Unit {
	u := &Unit{
		Program: bytecode.NewProgram(),
		Labels:  make(map[string]Position),
	}

	var refs []Statement
	offset := 0
	for i, line := range strings.Split(src, "\n") {
		start := offset
		offset += len(line) + 1
		line = strings.TrimSuffix(line, "\r")

		trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		indent := len(line) - len(trimmed)
		pos := Position{Offset: start + indent, Line: i + 1, Column: indent + 1}

		st, ok := u.parseLine(pos, strings.TrimRightFunc(trimmed, unicode.IsSpace))
		if !ok {
			continue
		}
		u.Statements = append(u.Statements, st)
		if st.Op.IsBranch() {
			refs = append(refs, st)
		}
	}

	for _, st := range refs {
		if _, ok := u.Labels[st.Operand]; !ok {
			u.Errors.add(st.OperandPos, "undefined label %q", st.Operand)
		}
	}
	u.Errors.Sort()
	return u
}

// parseLine parses one statement whose mnemonic starts at pos.
func (u *Unit) parseLine(pos Position, line string) (Statement, bool) {
	mnemonic, operand, skip := line, "", 0
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		mnemonic = line[:i]
		operand = strings.TrimLeftFunc(line[i:], unicode.IsSpace)
		skip = len(line) - len(operand)
	}

	st := Statement{Pos: pos, Mnemonic: mnemonic, Operand: operand}
	if operand != "" {
		st.OperandPos = Position{Offset: pos.Offset + skip, Line: pos.Line, Column: pos.Column + skip}
	}

	op, ok := bytecode.LookupMnemonic(strings.ToUpper(mnemonic))
	if !ok {
		u.Errors.add(pos, "unknown mnemonic %q", mnemonic)
		return st, false
	}
	if imm, ok := compat[op]; ok && operand != "" {
		op = imm
	}
	st.Op = op

	in := bytecode.Instruction{Op: op}
	shape := op.Operand()

	if shape == bytecode.OperandNone {
		if operand != "" {
			u.Errors.add(st.OperandPos, "%s takes no operand", op)
			return st, false
		}
		st.Addr = u.Program.Emit(in)
		return st, true
	}
	if operand == "" {
		u.Errors.add(pos, "%s needs a %s operand", op, shape)
		return st, false
	}

	var err error
	switch shape {
	case bytecode.OperandU8:
		var v uint64
		v, err = strconv.ParseUint(operand, 10, 8)
		in.Byte = uint8(v)
	case bytecode.OperandI64:
		in.Int, err = strconv.ParseInt(operand, 10, 64)
	case bytecode.OperandU64:
		in.UInt, err = strconv.ParseUint(operand, 10, 64)
	case bytecode.OperandF64:
		in.Float, err = strconv.ParseFloat(operand, 64)
	case bytecode.OperandBool:
		in.Bool, err = strconv.ParseBool(operand)
	case bytecode.OperandText:
		in.Text, err = parseText(operand)
	case bytecode.OperandName:
		in.Text, err = parseName(operand)
	}
	if err != nil {
		u.Errors.add(st.OperandPos, "%s: %v", op, cleanNumError(err))
		return st, false
	}

	if op == bytecode.OpLabel {
		if prev, dup := u.Labels[in.Text]; dup {
			u.Errors.add(st.OperandPos, "label %q already defined at line %d", in.Text, prev.Line)
			return st, false
		}
		u.Labels[in.Text] = st.OperandPos
		st.Operand = in.Text
		st.Addr = u.Program.Mark(in.Text)
		return st, true
	}

	if shape == bytecode.OperandName {
		st.Operand = in.Text
	}
	st.Addr = u.Program.Emit(in)
	return st, true
}

// parseText reads a PUSHS operand.
func parseText(s string) (string, error) {
	if strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "`") {
		text, err := strconv.Unquote(s)
		if err != nil {
			return "", fmt.Errorf("malformed string literal %s", s)
		}
		if !utf8.ValidString(text) {
			return "", fmt.Errorf("string literal is not valid UTF-8")
		}
		return text, nil
	}
	return strings.ReplaceAll(s, `\n`, "\n"), nil
}

// parseName reads a variable, label or handler name, bare or Go-quoted.
func parseName(s string) (string, error) {
	if strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "`") {
		name, err := strconv.Unquote(s)
		if err != nil {
			return "", fmt.Errorf("malformed quoted name %s", s)
		}
		if len(name) > bytecode.MaxNameLen {
			return "", fmt.Errorf("name is %d bytes, limit is %d", len(name), bytecode.MaxNameLen)
		}
		return name, nil
	}
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		return "", fmt.Errorf("unexpected %q after name", s[i:])
	}
	if len(s) > bytecode.MaxNameLen {
		return "", fmt.Errorf("name is %d bytes, limit is %d", len(s), bytecode.MaxNameLen)
	}
	return s, nil
}

// cleanNumError strips strconv's function prefix from err.
func cleanNumError(err error) error {
	if ne, ok := err.(*strconv.NumError); ok {
		return fmt.Errorf("%q: %v", ne.Num, ne.Err)
	}
	return err
}
