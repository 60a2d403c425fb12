package bytecode

import (
	"strconv"
	"unicode"
	"unicode/utf8"
)

// Instruction is a decoded operation. Op selects the variant; the opcode's
// operand shape selects which immediate field is meaningful:
//
//	OperandU8          -> Byte
//	OperandI64         -> Int
//	OperandU64         -> UInt
//	OperandF64         -> Float
//	OperandBool        -> Bool
//	OperandText, Name  -> Text
//
// Unused fields are zero, so instructions compare with ==.
type Instruction struct {
	Op    Opcode
	Int   int64
	UInt  uint64
	Float float64
	Bool  bool
	Byte  uint8
	Text  string
}

// Op returns an instruction without an immediate.
func Op(op Opcode) Instruction { return Instruction{Op: op} }

// IntOp returns an instruction with a signed immediate (PUSHI, ADDI, ...).
func IntOp(op Opcode, v int64) Instruction { return Instruction{Op: op, Int: v} }

// UIntOp returns an instruction with an unsigned immediate (PUSHU, ADDU, ...).
func UIntOp(op Opcode, v uint64) Instruction { return Instruction{Op: op, UInt: v} }

// FloatOp returns an instruction with a float immediate (PUSHF, ADDF, ...).
func FloatOp(op Opcode, v float64) Instruction { return Instruction{Op: op, Float: v} }

// NameOp returns an instruction whose immediate is a string: a literal, a
// variable name, a label or a native handler name.
func NameOp(op Opcode, name string) Instruction { return Instruction{Op: op, Text: name} }

func PushInt(v int64) Instruction     { return IntOp(OpPushInt, v) }
func PushUInt(v uint64) Instruction   { return UIntOp(OpPushUInt, v) }
func PushFloat(v float64) Instruction { return FloatOp(OpPushFloat, v) }
func PushBool(v bool) Instruction     { return Instruction{Op: OpPushBool, Bool: v} }
func PushString(s string) Instruction { return NameOp(OpPushString, s) }
func ExitImmediate(code uint8) Instruction {
	return Instruction{Op: OpExitImmediate, Byte: code}
}
func LoadImm(name string) Instruction    { return NameOp(OpLoadImm, name) }
func StoreImm(name string) Instruction   { return NameOp(OpStoreImm, name) }
func FreeImm(name string) Instruction    { return NameOp(OpFreeImm, name) }
func Jump(label string) Instruction      { return NameOp(OpJump, label) }
func JumpIf(label string) Instruction    { return NameOp(OpJumpIf, label) }
func Call(label string) Instruction      { return NameOp(OpCall, label) }
func CallNative(name string) Instruction { return NameOp(OpCallNative, name) }

// Immediate returns the instruction's immediate as a Value, for the numeric and
// boolean shapes. ok is false for instructions without such an immediate.
func (in Instruction) Immediate() (v Value, ok bool) {
	switch in.Op.Operand() {
	case OperandI64:
		return Int(in.Int), true
	case OperandU64:
		return UInt(in.UInt), true
	case OperandF64:
		return Float(in.Float), true
	case OperandBool:
		return Bool(in.Bool), true
	case OperandU8:
		return UInt(uint64(in.Byte)), true
	case OperandText:
		return Str(in.Text), true
	}
	return Value{}, false
}

// String returns the canonical assembly form of the instruction, e.g. "PUSHI 42",
// "STORE_IMM x" or `PUSHS "hi\n"`. The asm package parses this form back.
func (in Instruction) String() string {
	name := in.Op.String()
	switch in.Op.Operand() {
	case OperandU8:
		return name + " " + strconv.FormatUint(uint64(in.Byte), 10)
	case OperandI64:
		return name + " " + strconv.FormatInt(in.Int, 10)
	case OperandU64:
		return name + " " + strconv.FormatUint(in.UInt, 10)
	case OperandF64:
		return name + " " + FormatFloat(in.Float)
	case OperandBool:
		return name + " " + strconv.FormatBool(in.Bool)
	case OperandText:
		return name + " " + strconv.Quote(in.Text)
	case OperandName:
		return name + " " + FormatName(in.Text)
	default:
		return name
	}
}

// FormatName renders a variable, label or handler name as an operand. Names
// that would not read back as a single bare word (empty, containing spaces or
// unprintable runes, or starting with a quote) are Go-quoted.
func FormatName(s string) string {
	if s == "" || s[0] == '"' || s[0] == '`' || !utf8.ValidString(s) {
		return strconv.Quote(s)
	}
	for _, r := range s {
		if unicode.IsSpace(r) || !strconv.IsPrint(r) {
			return strconv.Quote(s)
		}
	}
	return s
}

// FormatFloat renders a float so that strconv.ParseFloat returns the same bits,
// keeping a decimal point on integral values ("2.0" rather than "2").
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', 'e', 'E', 'N', 'I':
			return s
		}
	}
	return s + ".0"
}
