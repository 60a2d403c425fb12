package bytecode

import (
	"maps"
	"slices"

	"github.com/tliron/commonlog"
)

// NativeHandler is a host callback invoked by CALLNATIVE. It runs synchronously
// with full access to the engine: it may push and pop values, read and write
// variables, and call further handlers through vm.CallNative.
//
// An error returned by a handler halts the program. If the error wraps a Fault
// that fault is reported, otherwise NativeHandlerFailed.
type NativeHandler interface {
	CallNative(vm *VM) error
}

// NativeFunc adapts an ordinary function to NativeHandler.
type NativeFunc func(vm *VM) error

// CallNative calls f(vm).
func (f NativeFunc) CallNative(vm *VM) error {
	return f(vm)
}

// Status is the outcome of a run that did not fault. Exited is false when the
// program ran off the end of its instructions, and true after EXIT or EXIT_IMM,
// in which case Code is the program-chosen exit status. The engine never
// terminates the process; that is left to the host.
type Status struct {
	Exited bool
	Code   int32
}

// Option configures a VM.
type Option func(*VM)

// WithStepLimit bounds the number of instructions a VM may execute. Exceeding
// it faults with StepLimitExceeded. Zero means unlimited.
func WithStepLimit(n uint64) Option {
	return func(vm *VM) { vm.stepLimit = n }
}

// WithTrace logs every instruction at debug level before it executes.
func WithTrace() Option {
	return func(vm *VM) { vm.trace = true }
}

// WithLogger sets the logger used for tracing.
func WithLogger(log commonlog.Logger) Option {
	return func(vm *VM) { vm.log = log }
}

// VM executes a Program.
//
// All state is owned by the instance: the data stack, the call stack of return
// addresses, the variable store and the native handler registry. A VM must
// not be used from more than one goroutine at a time.
type VM struct {
	prog *Program

	ip    int
	stack []Value
	calls []int
	vars  map[string]Value

	natives map[string]NativeHandler

	steps     uint64
	stepLimit uint64
	running   bool
	halted    bool
	status    Status
	err       error

	trace bool
	log   commonlog.Logger
}

// New creates a VM for prog. The program is not copied and must not be
// modified while the VM is in use.
func New(prog *Program, opts ...Option) *VM {
	vm := &VM{
		prog:    prog,
		stack:   make([]Value, 0, 64),
		calls:   make([]int, 0, 16),
		vars:    make(map[string]Value),
		natives: make(map[string]NativeHandler),
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.log == nil {
		vm.log = commonlog.GetLogger("vvm.engine")
	}
	return vm
}

// Register installs a native handler under name, replacing any previous one.
// The registry is fixed once Run starts; registering from inside a running
// program panics.
func (vm *VM) Register(name string, h NativeHandler) {
	if vm.running {
		panic("bytecode: Register called while the VM is running")
	}
	vm.natives[name] = h
}

// RegisterFunc installs a function as a native handler.
func (vm *VM) RegisterFunc(name string, f func(vm *VM) error) {
	vm.Register(name, NativeFunc(f))
}

// Program returns the program being executed.
func (vm *VM) Program() *Program {
	return vm.prog
}

// Run executes instructions until the program exits, runs past its last
// instruction, or faults. A fault is returned as a *RuntimeError. Once halted,
// Run returns the same result again without executing anything.
func (vm *VM) Run() (Status, error) {
	vm.running = true
	defer func() { vm.running = false }()

	for !vm.halted {
		if err := vm.Step(); err != nil {
			return vm.status, err
		}
	}
	return vm.status, vm.err
}

// Step executes a single instruction. It returns the fault that halted the VM,
// if any; stepping a halted VM is a no-op that repeats that result.
func (vm *VM) Step() error {
	if vm.halted {
		return vm.err
	}
	if vm.ip < 0 || vm.ip >= len(vm.prog.Instructions) {
		vm.halted = true
		return nil
	}

	addr := vm.ip
	in := vm.prog.Instructions[addr]

	if vm.stepLimit > 0 && vm.steps >= vm.stepLimit {
		return vm.fail(addr, in, faultf(StepLimitExceeded, "%d instructions executed", vm.steps))
	}
	vm.steps++

	if vm.trace {
		vm.log.Debugf("[%04d] %-24s stack=%d calls=%d", addr, in, len(vm.stack), len(vm.calls))
	}

	jumped, err := vm.execute(in)
	if err != nil {
		return vm.fail(addr, in, err)
	}
	if !jumped && !vm.halted {
		vm.ip++
	}
	return nil
}

func (vm *VM) fail(addr int, in Instruction, err error) error {
	rerr := &RuntimeError{Fault: faultOf(err), Addr: addr, Instr: in, Err: err}
	vm.halted = true
	vm.err = rerr
	return rerr
}

// execute dispatches one instruction. jumped reports whether it set the
// instruction pointer itself.
func (vm *VM) execute(in Instruction) (jumped bool, err error) {
	switch in.Op {
	// ============ Termination ============
	case OpExit:
		v, err := vm.Pop()
		if err != nil {
			return false, err
		}
		var code int32
		switch v.Kind() {
		case KindInt:
			code = int32(v.i)
		case KindUInt:
			code = int32(v.u)
		default:
			return false, faultf(TypeMismatch, "exit code must be int or uint, got %s", v.Kind())
		}
		vm.exit(code)

	case OpExitImmediate:
		vm.exit(int32(in.Byte))

	// ============ Stack Operations ============
	case OpPushInt, OpPushUInt, OpPushFloat, OpPushBool, OpPushString:
		v, _ := in.Immediate()
		vm.Push(v)

	case OpPop:
		if _, err := vm.Pop(); err != nil {
			return false, err
		}

	case OpDup:
		v, err := vm.Peek()
		if err != nil {
			return false, err
		}
		vm.Push(v)

	case OpSwap:
		n := len(vm.stack)
		if n < 2 {
			return false, faultf(StackUnderflow, "SWAP needs 2 values, have %d", n)
		}
		vm.stack[n-1], vm.stack[n-2] = vm.stack[n-2], vm.stack[n-1]

	// ============ Arithmetic ============
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpExp:
		left, right, err := vm.pop2()
		if err != nil {
			return false, err
		}
		res, err := arith(in.Op, left, right)
		if err != nil {
			return false, err
		}
		vm.Push(res)

	case OpAddI, OpAddU, OpAddF,
		OpSubI, OpSubU, OpSubF,
		OpMulI, OpMulU, OpMulF,
		OpDivI, OpDivU, OpDivF,
		OpModI, OpModU,
		OpExpI, OpExpU, OpExpF:
		left, err := vm.Pop()
		if err != nil {
			return false, err
		}
		right, _ := in.Immediate()
		res, err := arith(in.Op, left, right)
		if err != nil {
			return false, err
		}
		vm.Push(res)

	// ============ Variables ============
	case OpLoad:
		name, err := vm.popName()
		if err != nil {
			return false, err
		}
		v, err := vm.Load(name)
		if err != nil {
			return false, err
		}
		vm.Push(v)

	case OpLoadImm:
		v, err := vm.Load(in.Text)
		if err != nil {
			return false, err
		}
		vm.Push(v)

	case OpStore:
		v, err := vm.Pop()
		if err != nil {
			return false, err
		}
		name, err := vm.popName()
		if err != nil {
			return false, err
		}
		vm.Store(name, v)

	case OpStoreImm:
		v, err := vm.Pop()
		if err != nil {
			return false, err
		}
		vm.Store(in.Text, v)

	case OpFree:
		name, err := vm.popName()
		if err != nil {
			return false, err
		}
		vm.Free(name)

	case OpFreeImm:
		vm.Free(in.Text)

	// ============ Comparison ============
	case OpCmpEqual, OpCmpNotEqual:
		left, right, err := vm.pop2()
		if err != nil {
			return false, err
		}
		eq := left.Equal(right)
		vm.Push(Bool(eq == (in.Op == OpCmpEqual)))

	case OpCmpGreaterThan, OpCmpLessThan, OpCmpGreaterEqual, OpCmpLessEqual:
		left, right, err := vm.pop2()
		if err != nil {
			return false, err
		}
		var ok bool
		switch in.Op {
		case OpCmpGreaterThan:
			ok, err = left.Greater(right)
		case OpCmpLessThan:
			ok, err = left.Less(right)
		case OpCmpGreaterEqual:
			ok, err = left.GreaterEqual(right)
		default:
			ok, err = left.LessEqual(right)
		}
		if err != nil {
			return false, err
		}
		vm.Push(Bool(ok))

	// ============ Control Flow ============
	case OpJump:
		return true, vm.jump(in.Text)

	case OpJumpIf:
		v, err := vm.Pop()
		if err != nil {
			return false, err
		}
		cond, ok := v.AsBool()
		if !ok {
			return false, faultf(TypeMismatch, "JMPIF needs a bool, got %s", v.Kind())
		}
		if !cond {
			return false, nil
		}
		return true, vm.jump(in.Text)

	case OpCall:
		target, err := vm.resolve(in.Text)
		if err != nil {
			return false, err
		}
		vm.calls = append(vm.calls, vm.ip+1)
		vm.ip = target
		return true, nil

	case OpRet:
		n := len(vm.calls)
		if n == 0 {
			return false, faultf(CallStackUnderflow, "RET with empty call stack")
		}
		vm.ip = vm.calls[n-1]
		vm.calls = vm.calls[:n-1]
		return true, nil

	case OpCallNative:
		return false, vm.CallNative(in.Text)

	default:
		return false, faultf(TypeMismatch, "cannot execute %s", in.Op)
	}

	return false, nil
}

// arith applies the arithmetic family of op to left and right.
func arith(op Opcode, left, right Value) (Value, error) {
	switch {
	case op >= OpAdd && op <= OpAddF:
		return left.Add(right)
	case op >= OpSub && op <= OpSubF:
		return left.Sub(right)
	case op >= OpMul && op <= OpMulF:
		return left.Mul(right)
	case op >= OpDiv && op <= OpDivF:
		return left.Div(right)
	case op >= OpMod && op <= OpModU:
		return left.Mod(right)
	default:
		return left.Exp(right)
	}
}

func (vm *VM) exit(code int32) {
	vm.status = Status{Exited: true, Code: code}
	vm.halted = true
}

func (vm *VM) resolve(label string) (int, error) {
	addr, ok := vm.prog.Lookup(label)
	if !ok {
		return 0, faultf(UndefinedLabel, "%q", label)
	}
	return addr, nil
}

func (vm *VM) jump(label string) error {
	addr, err := vm.resolve(label)
	if err != nil {
		return err
	}
	vm.ip = addr
	return nil
}

// pop2 pops the right operand and then the left operand.
func (vm *VM) pop2() (left, right Value, err error) {
	n := len(vm.stack)
	if n < 2 {
		return Value{}, Value{}, faultf(StackUnderflow, "need 2 values, have %d", n)
	}
	right = vm.stack[n-1]
	left = vm.stack[n-2]
	vm.stack = vm.stack[:n-2]
	return left, right, nil
}

// popName pops a variable name, which must be a string.
func (vm *VM) popName() (string, error) {
	v, err := vm.Pop()
	if err != nil {
		return "", err
	}
	name, ok := v.AsString()
	if !ok {
		return "", faultf(TypeMismatch, "variable name must be a string, got %s", v.Kind())
	}
	return name, nil
}

// ============ Embedding API ============

// Push pushes v onto the data stack.
func (vm *VM) Push(v Value) {
	vm.stack = append(vm.stack, v)
}

// Pop removes and returns the top of the data stack.
func (vm *VM) Pop() (Value, error) {
	n := len(vm.stack)
	if n == 0 {
		return Value{}, faultf(StackUnderflow, "pop from empty stack")
	}
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v, nil
}

// Peek returns the top of the data stack without removing it.
func (vm *VM) Peek() (Value, error) {
	n := len(vm.stack)
	if n == 0 {
		return Value{}, faultf(StackUnderflow, "peek at empty stack")
	}
	return vm.stack[n-1], nil
}

// Depth returns the number of values on the data stack.
func (vm *VM) Depth() int {
	return len(vm.stack)
}

// Stack returns a copy of the data stack, bottom first.
func (vm *VM) Stack() []Value {
	return slices.Clone(vm.stack)
}

// Load returns the value bound to name.
func (vm *VM) Load(name string) (Value, error) {
	v, ok := vm.vars[name]
	if !ok {
		return Value{}, faultf(UndefinedVariable, "%q", name)
	}
	return v, nil
}

// Store binds name to v, replacing any previous binding.
func (vm *VM) Store(name string, v Value) {
	vm.vars[name] = v
}

// Free removes the binding for name. Freeing an unbound name does nothing.
func (vm *VM) Free(name string) {
	delete(vm.vars, name)
}

// Variables returns a copy of the variable store.
func (vm *VM) Variables() map[string]Value {
	return maps.Clone(vm.vars)
}

// CallNative invokes the handler registered under name. Handlers use it to
// call each other; the call is an ordinary nested function call.
func (vm *VM) CallNative(name string) error {
	h, ok := vm.natives[name]
	if !ok {
		return faultf(UndefinedNativeHandler, "%q", name)
	}
	return h.CallNative(vm)
}

// HasNative reports whether a handler is registered under name.
func (vm *VM) HasNative(name string) bool {
	_, ok := vm.natives[name]
	return ok
}

// IP returns the address of the next instruction to execute.
func (vm *VM) IP() int {
	return vm.ip
}

// CallDepth returns the number of pending return addresses.
func (vm *VM) CallDepth() int {
	return len(vm.calls)
}

// Steps returns the number of instructions executed since the last reset.
func (vm *VM) Steps() uint64 {
	return vm.steps
}

// Halted reports whether the VM has stopped.
func (vm *VM) Halted() bool {
	return vm.halted
}

// Status returns how the VM stopped. It is the zero Status until the VM
// halts by Exit.
func (vm *VM) Status() Status {
	return vm.status
}

// Err returns the fault that halted the VM, or nil.
func (vm *VM) Err() error {
	return vm.err
}

// Reset clears the execution state so the program can run again from
// address 0. Registered natives are kept.
func (vm *VM) Reset() {
	vm.ip = 0
	vm.stack = vm.stack[:0]
	vm.calls = vm.calls[:0]
	clear(vm.vars)
	vm.steps = 0
	vm.halted = false
	vm.status = Status{}
	vm.err = nil
}
