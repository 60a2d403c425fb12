// Package natives provides the standard native handlers that hosts register
// with a bytecode.VM: console I/O and a few string helpers.
package natives

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/vcokltfre/vvm/pkg/bytecode"
)

// Host carries the I/O streams the handlers use.
type Host struct {
	In  io.Reader
	Out io.Writer

	in *bufio.Reader
}

// NewHost returns a Host reading from in and writing to out.
func NewHost(in io.Reader, out io.Writer) *Host {
	return &Host{In: in, Out: out}
}

// Handlers returns every standard handler keyed by name.
func (h *Host) Handlers() map[string]bytecode.NativeHandler {
	return map[string]bytecode.NativeHandler{
		"print":    bytecode.NativeFunc(h.print),
		"println":  bytecode.NativeFunc(h.println),
		"concat":   bytecode.NativeFunc(concat),
		"tostring": bytecode.NativeFunc(tostring),
		"len":      bytecode.NativeFunc(length),
		"readline": bytecode.NativeFunc(h.readline),
		"dump":     bytecode.NativeFunc(h.dump),
	}
}

// Names returns the names of the standard handlers, sorted.
func Names() []string {
	return slices.Sorted(maps.Keys((&Host{}).Handlers()))
}

// Register installs the named handlers on vm, or all of them when names is
// empty. An unknown name is an error and nothing is registered.
func (h *Host) Register(vm *bytecode.VM, names ...string) error {
	all := h.Handlers()
	if len(names) == 0 {
		names = slices.Sorted(maps.Keys(all))
	}

	for _, name := range names {
		if _, ok := all[name]; !ok {
			return fmt.Errorf("unknown native %q (have %s)", name, strings.Join(Names(), ", "))
		}
	}
	for _, name := range names {
		vm.Register(name, all[name])
	}
	return nil
}

// ---------------------------------------------------------------------------
// Console
// ---------------------------------------------------------------------------

// print pops a value and writes its display form.
func (h *Host) print(vm *bytecode.VM) error {
	v, err := vm.Pop()
	if err != nil {
		return err
	}
	_, err = io.WriteString(h.Out, v.String())
	return err
}

// println is print followed by a newline.
func (h *Host) println(vm *bytecode.VM) error {
	v, err := vm.Pop()
	if err != nil {
		return err
	}
	_, err = io.WriteString(h.Out, v.String()+"\n")
	return err
}

// readline pushes the next input line without its line ending. At end of
// input it pushes an empty string.
func (h *Host) readline(vm *bytecode.VM) error {
	if h.in == nil {
		if h.In == nil {
			vm.Push(bytecode.Str(""))
			return nil
		}
		h.in = bufio.NewReader(h.In)
	}

	line, err := h.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	vm.Push(bytecode.Str(line))
	return nil
}

// dump writes the data stack and variables without changing them.
func (h *Host) dump(vm *bytecode.VM) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "stack (%d):\n", vm.Depth())
	stack := vm.Stack()
	for i := len(stack) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "  %d: %#v\n", i, stack[i])
	}

	vars := vm.Variables()
	fmt.Fprintf(&sb, "variables (%d):\n", len(vars))
	for _, name := range slices.Sorted(maps.Keys(vars)) {
		fmt.Fprintf(&sb, "  %s = %#v\n", name, vars[name])
	}

	_, err := io.WriteString(h.Out, sb.String())
	return err
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// concat pops b then a and pushes the concatenated display forms of a and b.
func concat(vm *bytecode.VM) error {
	b, err := vm.Pop()
	if err != nil {
		return err
	}
	a, err := vm.Pop()
	if err != nil {
		return err
	}
	vm.Push(bytecode.Str(a.String() + b.String()))
	return nil
}

// tostring replaces the top value with its display form.
func tostring(vm *bytecode.VM) error {
	v, err := vm.Pop()
	if err != nil {
		return err
	}
	vm.Push(bytecode.Str(v.String()))
	return nil
}

// length replaces a string with its length in characters.
func length(vm *bytecode.VM) error {
	v, err := vm.Pop()
	if err != nil {
		return err
	}
	s, ok := v.AsString()
	if !ok {
		return fmt.Errorf("len: %w: want string, got %s", bytecode.TypeMismatch, v.Kind())
	}
	vm.Push(bytecode.UInt(uint64(utf8.RuneCountInString(s))))
	return nil
}
