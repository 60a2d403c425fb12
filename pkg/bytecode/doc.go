// Package bytecode implements the vvm instruction set: a compact binary
// format, a decoder and encoder for it, a small optimizer, and a stack-based
// virtual machine that executes decoded programs.
//
// # Format
//
// A bytecode file is a flat sequence of records, each an opcode byte followed
// by an immediate whose shape is fixed by the opcode:
//
//   - no immediate (POP, ADD, RET, ...)
//   - one byte (EXIT_IMM code, PUSHB flag)
//   - eight little-endian bytes: i64, u64 or IEEE 754 f64
//   - a u32 length and UTF-8 text (PUSHS only)
//   - a u8 length and a UTF-8 name (variables, labels, native handlers)
//
// The LABEL pseudo-op binds a name to the index of the next instruction and
// does not become an instruction itself. Labels are therefore zero-width and
// a label may point one past the last instruction.
//
// # Values
//
// The machine works on five scalar kinds: int (int64), uint (uint64),
// float (float64), bool and string. Arithmetic and ordering require both
// operands to be the same numeric kind; equality is defined for any pair and
// is false across kinds. Integer arithmetic wraps.
//
// # Execution
//
// A VM owns a data stack, a separate call stack of return addresses, a
// variable store and a registry of native handlers. Runs stop when the
// program executes EXIT or EXIT_IMM, runs past its last instruction, or
// faults. Faults are returned as *RuntimeError values carrying a Fault kind:
//
//	status, err := bytecode.New(prog).Run()
//	if errors.Is(err, bytecode.DivisionByZero) {
//		...
//	}
//
// Native handlers are the only way out of the machine. They run synchronously
// with full access to the VM and may call one another through VM.CallNative.
//
// # Optimization
//
// Optimize rewrites STORE_IMM x; LOAD_IMM x into DUP; STORE_IMM x and renames
// labels to dense decimal indices in definition order.
package bytecode
