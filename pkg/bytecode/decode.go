package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Decode parses raw bytecode into a Program.
//
// Format: a flat sequence of [opcode:1] [immediate:...] records. The immediate
// shape is fixed per opcode (see opcodeInfoTable). The LABEL pseudo-op
// [0x70] [len:1] [name...] binds name to the index of the next instruction and
// emits nothing.
//
// Decoding fails closed: an unknown opcode, a truncated immediate or invalid
// UTF-8 aborts with a *DecodeError and no Program.
func Decode(data []byte) (*Program, error) {
	p := NewProgram()
	r := decoder{data: data}

	for r.pos < len(r.data) {
		start := r.pos
		op := Opcode(r.data[r.pos])
		r.pos++

		info, ok := opcodeInfoTable[op]
		if !ok {
			return nil, &DecodeError{Offset: start, Op: op, Err: ErrUnknownOpcode}
		}

		in, err := r.operand(op, info.Operand)
		if err != nil {
			return nil, &DecodeError{Offset: start, Op: op, Err: err}
		}

		if op == OpLabel {
			p.Mark(in.Text)
			continue
		}
		p.Emit(in)
	}

	return p, nil
}

// decoder is a cursor over a bytecode buffer.
type decoder struct {
	data []byte
	pos  int
}

// need returns the next n bytes and advances past them.
func (r *decoder) need(n int, what string) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) || r.pos+n < r.pos {
		return nil, fmt.Errorf("%w reading %s: need %d bytes at offset %d, have %d",
			ErrTruncated, what, n, r.pos, len(r.data)-r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// operand reads the immediate for op according to its declared shape.
func (r *decoder) operand(op Opcode, shape Operand) (Instruction, error) {
	in := Instruction{Op: op}

	switch shape {
	case OperandNone:
		// Single byte

	case OperandU8:
		b, err := r.need(1, "u8 immediate")
		if err != nil {
			return in, err
		}
		in.Byte = b[0]

	case OperandBool:
		b, err := r.need(1, "bool immediate")
		if err != nil {
			return in, err
		}
		in.Bool = b[0] != 0

	case OperandI64:
		b, err := r.need(8, "i64 immediate")
		if err != nil {
			return in, err
		}
		in.Int = int64(binary.LittleEndian.Uint64(b))

	case OperandU64:
		b, err := r.need(8, "u64 immediate")
		if err != nil {
			return in, err
		}
		in.UInt = binary.LittleEndian.Uint64(b)

	case OperandF64:
		b, err := r.need(8, "f64 immediate")
		if err != nil {
			return in, err
		}
		in.Float = math.Float64frombits(binary.LittleEndian.Uint64(b))

	case OperandText:
		b, err := r.need(4, "string length")
		if err != nil {
			return in, err
		}
		n := binary.LittleEndian.Uint32(b)
		if uint64(n) > uint64(len(r.data)-r.pos) {
			return in, fmt.Errorf("%w reading string: need %d bytes at offset %d, have %d",
				ErrTruncated, n, r.pos, len(r.data)-r.pos)
		}
		s, err := r.str(int(n))
		if err != nil {
			return in, err
		}
		in.Text = s

	case OperandName:
		b, err := r.need(1, "name length")
		if err != nil {
			return in, err
		}
		s, err := r.str(int(b[0]))
		if err != nil {
			return in, err
		}
		in.Text = s
	}

	return in, nil
}

// str reads n bytes of UTF-8.
func (r *decoder) str(n int) (string, error) {
	b, err := r.need(n, "string bytes")
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w at offset %d", ErrInvalidUTF8, r.pos-n)
	}
	return string(b), nil
}
