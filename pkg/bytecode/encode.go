package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MaxNameLen is the longest variable, label or handler name the format can carry.
const MaxNameLen = 255

// Encode serializes a Program into the binary format read by Decode.
//
// For each address the labels bound there are written first, in definition
// order, followed by the instruction. Labels bound past the last instruction
// are written at the end.
func Encode(p *Program) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	idx := p.labelIndex()
	buf := make([]byte, 0, estimateSize(p))

	var err error
	for addr := 0; addr <= len(p.Instructions); addr++ {
		for _, name := range idx[addr] {
			if buf, err = appendLabel(buf, name); err != nil {
				return nil, err
			}
		}
		if addr == len(p.Instructions) {
			break
		}
		if buf, err = AppendInstruction(buf, p.Instructions[addr]); err != nil {
			return nil, fmt.Errorf("instruction %04d: %w", addr, err)
		}
	}

	return buf, nil
}

// AppendInstruction appends the encoding of a single instruction to buf.
func AppendInstruction(buf []byte, in Instruction) ([]byte, error) {
	info, ok := opcodeInfoTable[in.Op]
	if !ok {
		return buf, fmt.Errorf("%w 0x%02X", ErrUnknownOpcode, byte(in.Op))
	}

	buf = append(buf, byte(in.Op))

	switch info.Operand {
	case OperandU8:
		buf = append(buf, in.Byte)
	case OperandBool:
		if in.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case OperandI64:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(in.Int))
	case OperandU64:
		buf = binary.LittleEndian.AppendUint64(buf, in.UInt)
	case OperandF64:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(in.Float))
	case OperandText:
		if uint64(len(in.Text)) > math.MaxUint32 {
			return buf, fmt.Errorf("%s: %w", in.Op, ErrTextTooLong)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(in.Text)))
		buf = append(buf, in.Text...)
	case OperandName:
		return appendName(buf, in.Op, in.Text)
	}

	return buf, nil
}

func appendLabel(buf []byte, name string) ([]byte, error) {
	return appendName(append(buf, byte(OpLabel)), OpLabel, name)
}

func appendName(buf []byte, op Opcode, name string) ([]byte, error) {
	if len(name) > MaxNameLen {
		return buf, fmt.Errorf("%s %.16q...: %w", op, name, ErrNameTooLong)
	}
	buf = append(buf, byte(len(name)))
	return append(buf, name...), nil
}

func estimateSize(p *Program) int {
	n := 0
	for _, in := range p.Instructions {
		n += 1 + len(in.Text)
		if size := in.Op.Operand().Size(); size > 0 {
			n += size
		} else if size < 0 {
			n += 4 // length prefix
		}
	}
	for _, name := range p.order {
		n += 2 + len(name)
	}
	return n
}
