package bytecode

import (
	"errors"
	"fmt"
)

// Fault identifies the kind of runtime failure raised while executing a program.
// Fault implements error so value operations can return it directly and callers
// can match with errors.Is(err, bytecode.TypeMismatch).
type Fault int

const (
	StackUnderflow Fault = iota + 1
	CallStackUnderflow
	TypeMismatch
	DivisionByZero
	UndefinedVariable
	UndefinedLabel
	UndefinedNativeHandler
	NativeHandlerFailed
	StepLimitExceeded
)

var faultNames = map[Fault]string{
	StackUnderflow:         "stack underflow",
	CallStackUnderflow:     "call stack underflow",
	TypeMismatch:           "type mismatch",
	DivisionByZero:         "division by zero",
	UndefinedVariable:      "undefined variable",
	UndefinedLabel:         "undefined label",
	UndefinedNativeHandler: "undefined native handler",
	NativeHandlerFailed:    "native handler failed",
	StepLimitExceeded:      "step limit exceeded",
}

// String returns a human-readable name for the fault.
func (f Fault) String() string {
	if name, ok := faultNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Fault(%d)", int(f))
}

func (f Fault) Error() string {
	return f.String()
}

// RuntimeError reports a fault raised by the instruction at Addr.
// Execution halts on the first RuntimeError; nothing is retried.
type RuntimeError struct {
	Fault Fault       // Kind of failure
	Addr  int         // Address of the faulting instruction
	Instr Instruction // The faulting instruction
	Err   error       // Underlying cause, may be nil
}

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s at %04d (%s)", e.Fault, e.Addr, e.Instr)
	var fe *faultError
	switch {
	case e.Err == nil || e.Err == error(e.Fault):
		return msg
	case errors.As(e.Err, &fe) && fe.fault == e.Fault:
		return msg + ": " + fe.detail
	default:
		return msg + ": " + e.Err.Error()
	}
}

// Unwrap exposes both the fault kind and the underlying cause.
func (e *RuntimeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Fault}
	}
	return []error{e.Fault, e.Err}
}

// faultError is a Fault with detail text attached.
type faultError struct {
	fault  Fault
	detail string
}

func (e *faultError) Error() string {
	return e.fault.String() + ": " + e.detail
}

func (e *faultError) Unwrap() error {
	return e.fault
}

// faultf returns an error of kind f carrying a formatted detail message.
func faultf(f Fault, format string, args ...any) error {
	return &faultError{fault: f, detail: fmt.Sprintf(format, args...)}
}

// faultOf extracts the Fault carried by err, or NativeHandlerFailed if there is none.
func faultOf(err error) Fault {
	var f Fault
	if errors.As(err, &f) {
		return f
	}
	return NativeHandlerFailed
}

// Codec errors.
var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrTruncated     = errors.New("unexpected end of bytecode")
	ErrInvalidUTF8   = errors.New("invalid UTF-8 in string operand")
	ErrNameTooLong   = errors.New("name exceeds 255 bytes")
	ErrTextTooLong   = errors.New("string literal exceeds 4294967295 bytes")
	ErrBadLabel      = errors.New("label address out of range")
	ErrPseudoOpcode  = errors.New("pseudo-opcode cannot be an instruction")
)

// DecodeError reports malformed bytecode. Decoding stops at the first error
// and no partial Program is returned.
type DecodeError struct {
	Offset int    // Byte offset of the opcode being decoded
	Op     Opcode // Opcode being decoded
	Err    error  // One of the codec sentinel errors, possibly wrapped
}

func (e *DecodeError) Error() string {
	if errors.Is(e.Err, ErrUnknownOpcode) {
		return fmt.Sprintf("decode: unknown opcode 0x%02X at offset %d", byte(e.Op), e.Offset)
	}
	return fmt.Sprintf("decode: %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrUnresolvedLabel is returned by the optimizer when a branch names a label
// that is missing from the label table.
var ErrUnresolvedLabel = errors.New("unresolved label")

// OptimizeError reports a branch whose target is not in the label table.
type OptimizeError struct {
	Addr  int
	Instr Instruction
	Label string
}

func (e *OptimizeError) Error() string {
	return fmt.Sprintf("optimize: %s %q at %04d (%s)", ErrUnresolvedLabel, e.Label, e.Addr, e.Instr)
}

func (e *OptimizeError) Unwrap() error {
	return ErrUnresolvedLabel
}
