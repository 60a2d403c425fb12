package bytecode

import "fmt"

// Opcode is the one-byte tag that identifies an instruction in the binary format.
// Opcodes are organized into ranges by category.
type Opcode byte

const (
	// ========================================================================
	// Termination (0x00-0x0F)
	// ========================================================================

	OpExit          Opcode = 0x00 // Pop an integer and exit with it
	OpExitImmediate Opcode = 0x01 // Exit with code: OpExitImmediate <code:u8>

	// ========================================================================
	// Stack (0x10-0x1F)
	// ========================================================================

	OpPushInt    Opcode = 0x10 // Push int: OpPushInt <i64>
	OpPushUInt   Opcode = 0x11 // Push uint: OpPushUInt <u64>
	OpPushFloat  Opcode = 0x12 // Push float: OpPushFloat <f64>
	OpPushBool   Opcode = 0x13 // Push bool: OpPushBool <u8>
	OpPushString Opcode = 0x14 // Push string: OpPushString <len:u32> <utf8...>
	OpPop        Opcode = 0x15 // Discard top of stack
	OpDup        Opcode = 0x16 // Duplicate top of stack
	OpSwap       Opcode = 0x17 // Swap top two stack elements

	// ========================================================================
	// Arithmetic (0x20-0x3F)
	// ========================================================================

	OpAdd  Opcode = 0x20 // Pop two, push a + b (b is TOS)
	OpAddI Opcode = 0x21 // Pop one, push a + imm: OpAddI <i64>
	OpAddU Opcode = 0x22 // OpAddU <u64>
	OpAddF Opcode = 0x23 // OpAddF <f64>
	OpSub  Opcode = 0x24
	OpSubI Opcode = 0x25
	OpSubU Opcode = 0x26
	OpSubF Opcode = 0x27
	OpMul  Opcode = 0x28
	OpMulI Opcode = 0x29
	OpMulU Opcode = 0x2a
	OpMulF Opcode = 0x2b
	OpDiv  Opcode = 0x2c
	OpDivI Opcode = 0x2d
	OpDivU Opcode = 0x2e
	OpDivF Opcode = 0x2f
	OpMod  Opcode = 0x30 // No float modulo
	OpModI Opcode = 0x31
	OpModU Opcode = 0x32
	OpExp  Opcode = 0x33
	OpExpI Opcode = 0x34
	OpExpU Opcode = 0x35
	OpExpF Opcode = 0x36

	// ========================================================================
	// Variables (0x40-0x4F)
	// ========================================================================

	OpLoad     Opcode = 0x40 // Pop name, push its value
	OpLoadImm  Opcode = 0x41 // Push value of: OpLoadImm <len:u8> <name>
	OpStore    Opcode = 0x42 // Pop value, pop name, bind
	OpStoreImm Opcode = 0x43 // Pop value, bind: OpStoreImm <len:u8> <name>
	OpFree     Opcode = 0x44 // Pop name, unbind
	OpFreeImm  Opcode = 0x45 // Unbind: OpFreeImm <len:u8> <name>

	// ========================================================================
	// Comparison (0x50-0x5F)
	// ========================================================================

	OpCmpEqual        Opcode = 0x50 // Pop two, push a == b (any variants)
	OpCmpNotEqual     Opcode = 0x51
	OpCmpGreaterThan  Opcode = 0x52 // Same numeric variant only
	OpCmpLessThan     Opcode = 0x53
	OpCmpGreaterEqual Opcode = 0x54
	OpCmpLessEqual    Opcode = 0x55

	// ========================================================================
	// Control flow (0x60-0x6F)
	// ========================================================================

	OpJump       Opcode = 0x60 // OpJump <len:u8> <label>
	OpJumpIf     Opcode = 0x61 // Pop bool, jump if true
	OpCall       Opcode = 0x62 // Push return address, jump
	OpCallNative Opcode = 0x63 // Invoke host handler: OpCallNative <len:u8> <name>
	OpRet        Opcode = 0x64 // Pop return address, jump

	// ========================================================================
	// Pseudo-ops (0x70-0x7F)
	// ========================================================================

	OpLabel Opcode = 0x70 // Bind label to next instruction index, emits nothing
)

// Operand describes the shape of the immediate that follows an opcode byte.
type Operand uint8

const (
	OperandNone  Operand = iota // No immediate
	OperandU8                   // 1 byte
	OperandI64                  // 8 bytes little-endian
	OperandU64                  // 8 bytes little-endian
	OperandF64                  // 8 bytes little-endian IEEE 754
	OperandBool                 // 1 byte, 0 = false, nonzero = true
	OperandText                 // u32 LE length prefix + UTF-8 bytes
	OperandName                 // u8 length prefix + UTF-8 bytes
)

// String returns a short name for the operand shape.
func (o Operand) String() string {
	switch o {
	case OperandNone:
		return "none"
	case OperandU8:
		return "u8"
	case OperandI64:
		return "i64"
	case OperandU64:
		return "u64"
	case OperandF64:
		return "f64"
	case OperandBool:
		return "bool"
	case OperandText:
		return "text"
	case OperandName:
		return "name"
	default:
		return fmt.Sprintf("Operand(%d)", o)
	}
}

// Size returns the fixed byte size of the operand, or -1 for length-prefixed shapes.
func (o Operand) Size() int {
	switch o {
	case OperandNone:
		return 0
	case OperandU8, OperandBool:
		return 1
	case OperandI64, OperandU64, OperandF64:
		return 8
	default:
		return -1
	}
}

// OpcodeInfo provides metadata about each opcode for the codec, assembler and disassembler.
type OpcodeInfo struct {
	Name      string  // Assembly mnemonic
	Operand   Operand // Immediate shape
	StackPop  int     // Values popped from the data stack (-1 = variable)
	StackPush int     // Values pushed to the data stack (-1 = variable)
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Termination
	OpExit:          {"EXIT", OperandNone, 1, 0},
	OpExitImmediate: {"EXIT_IMM", OperandU8, 0, 0},

	// Stack
	OpPushInt:    {"PUSHI", OperandI64, 0, 1},
	OpPushUInt:   {"PUSHU", OperandU64, 0, 1},
	OpPushFloat:  {"PUSHF", OperandF64, 0, 1},
	OpPushBool:   {"PUSHB", OperandBool, 0, 1},
	OpPushString: {"PUSHS", OperandText, 0, 1},
	OpPop:        {"POP", OperandNone, 1, 0},
	OpDup:        {"DUP", OperandNone, 1, 2},
	OpSwap:       {"SWAP", OperandNone, 2, 2},

	// Arithmetic
	OpAdd:  {"ADD", OperandNone, 2, 1},
	OpAddI: {"ADDI", OperandI64, 1, 1},
	OpAddU: {"ADDU", OperandU64, 1, 1},
	OpAddF: {"ADDF", OperandF64, 1, 1},
	OpSub:  {"SUB", OperandNone, 2, 1},
	OpSubI: {"SUBI", OperandI64, 1, 1},
	OpSubU: {"SUBU", OperandU64, 1, 1},
	OpSubF: {"SUBF", OperandF64, 1, 1},
	OpMul:  {"MUL", OperandNone, 2, 1},
	OpMulI: {"MULI", OperandI64, 1, 1},
	OpMulU: {"MULU", OperandU64, 1, 1},
	OpMulF: {"MULF", OperandF64, 1, 1},
	OpDiv:  {"DIV", OperandNone, 2, 1},
	OpDivI: {"DIVI", OperandI64, 1, 1},
	OpDivU: {"DIVU", OperandU64, 1, 1},
	OpDivF: {"DIVF", OperandF64, 1, 1},
	OpMod:  {"MOD", OperandNone, 2, 1},
	OpModI: {"MODI", OperandI64, 1, 1},
	OpModU: {"MODU", OperandU64, 1, 1},
	OpExp:  {"EXP", OperandNone, 2, 1},
	OpExpI: {"EXPI", OperandI64, 1, 1},
	OpExpU: {"EXPU", OperandU64, 1, 1},
	OpExpF: {"EXPF", OperandF64, 1, 1},

	// Variables
	OpLoad:     {"LOAD", OperandNone, 1, 1},
	OpLoadImm:  {"LOAD_IMM", OperandName, 0, 1},
	OpStore:    {"STORE", OperandNone, 2, 0},
	OpStoreImm: {"STORE_IMM", OperandName, 1, 0},
	OpFree:     {"FREE", OperandNone, 1, 0},
	OpFreeImm:  {"FREE_IMM", OperandName, 0, 0},

	// Comparison
	OpCmpEqual:        {"CMPEQ", OperandNone, 2, 1},
	OpCmpNotEqual:     {"CMPNE", OperandNone, 2, 1},
	OpCmpGreaterThan:  {"CMPGT", OperandNone, 2, 1},
	OpCmpLessThan:     {"CMPLT", OperandNone, 2, 1},
	OpCmpGreaterEqual: {"CMPGE", OperandNone, 2, 1},
	OpCmpLessEqual:    {"CMPLE", OperandNone, 2, 1},

	// Control flow
	OpJump:       {"JMP", OperandName, 0, 0},
	OpJumpIf:     {"JMPIF", OperandName, 1, 0},
	OpCall:       {"CALL", OperandName, 0, 0},
	OpCallNative: {"CALLNATIVE", OperandName, -1, -1}, // Handler decides
	OpRet:        {"RET", OperandNone, 0, 0},

	// Pseudo-ops
	OpLabel: {"LABEL", OperandName, 0, 0},
}

// mnemonicTable is the reverse of opcodeInfoTable, built once at init.
var mnemonicTable = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a placeholder info with Name "UNKNOWN" for undefined opcodes.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// LookupMnemonic returns the opcode for an assembly mnemonic.
func LookupMnemonic(name string) (Opcode, bool) {
	op, ok := mnemonicTable[name]
	return op, ok
}

// String returns the mnemonic for the opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// IsValid returns true if the opcode is defined.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// Operand returns the immediate shape of the opcode.
func (op Opcode) Operand() Operand {
	return GetOpcodeInfo(op).Operand
}

// IsPseudo returns true for opcodes that never become instructions.
func (op Opcode) IsPseudo() bool {
	return op == OpLabel
}

// IsArithmetic returns true for the binary and immediate arithmetic opcodes.
func (op Opcode) IsArithmetic() bool {
	return op >= OpAdd && op <= OpExpF
}

// IsComparison returns true for the comparison opcodes.
func (op Opcode) IsComparison() bool {
	return op >= OpCmpEqual && op <= OpCmpLessEqual
}

// IsBranch returns true for opcodes whose operand names a label.
func (op Opcode) IsBranch() bool {
	return op == OpJump || op == OpJumpIf || op == OpCall
}

// AllOpcodes returns a slice of all defined opcodes, including pseudo-ops.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
