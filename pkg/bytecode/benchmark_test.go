// Package bytecode benchmarks
//
// These benchmarks measure the performance of:
// - VM execution (arithmetic, loops, native calls)
// - Encoding/decoding
// - Optimization
//
// Run: go test -bench=. ./pkg/bytecode/...
// Run with memory stats: go test -bench=. -benchmem ./pkg/bytecode/...
package bytecode

import (
	"testing"
)

// countLoop returns a program that counts from 0 to n and exits with n.
func countLoop(n int64) *Program {
	p := NewProgram()
	p.Emit(PushInt(0))
	p.Emit(StoreImm("i"))
	p.Mark("loop")
	p.Emit(LoadImm("i"))
	p.Emit(IntOp(OpAddI, 1))
	p.Emit(StoreImm("i"))
	p.Emit(LoadImm("i"))
	p.Emit(PushInt(n))
	p.Emit(Op(OpCmpLessThan))
	p.Emit(JumpIf("loop"))
	p.Emit(LoadImm("i"))
	p.Emit(Op(OpExit))
	return p
}

// ============================================================
// Execution Benchmarks
// ============================================================

// BenchmarkExecuteArithmetic measures (a + b) * (c - d)
func BenchmarkExecuteArithmetic(b *testing.B) {
	p := NewProgram(
		PushInt(10), PushInt(20), Op(OpAdd),
		PushInt(100), PushInt(50), Op(OpSub),
		Op(OpMul), Op(OpExit),
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vm := New(p)
		_, _ = vm.Run()
	}
}

func BenchmarkExecuteLoop10(b *testing.B)   { benchmarkLoop(b, 10) }
func BenchmarkExecuteLoop100(b *testing.B)  { benchmarkLoop(b, 100) }
func BenchmarkExecuteLoop1000(b *testing.B) { benchmarkLoop(b, 1000) }

func benchmarkLoop(b *testing.B, n int64) {
	p := countLoop(n)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vm := New(p)
		_, _ = vm.Run()
	}
}

// BenchmarkExecuteLoopOptimized measures the loop after store/load elision
func BenchmarkExecuteLoopOptimized(b *testing.B) {
	p, err := Optimize(countLoop(1000))
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vm := New(p)
		_, _ = vm.Run()
	}
}

// BenchmarkCallNative measures the host callback round trip
func BenchmarkCallNative(b *testing.B) {
	p := NewProgram(PushInt(1), CallNative("inc"), Op(OpExit))
	inc := NativeFunc(func(vm *VM) error {
		v, err := vm.Pop()
		if err != nil {
			return err
		}
		res, err := v.Add(Int(1))
		if err != nil {
			return err
		}
		vm.Push(res)
		return nil
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vm := New(p)
		vm.Register("inc", inc)
		_, _ = vm.Run()
	}
}

// BenchmarkVMReuse measures Reset against constructing a new VM
func BenchmarkVMReuse(b *testing.B) {
	vm := New(countLoop(100))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vm.Reset()
		_, _ = vm.Run()
	}
}

// ============================================================
// Codec Benchmarks
// ============================================================

func BenchmarkEncode(b *testing.B) {
	p := countLoop(1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Encode(p)
	}
}

func BenchmarkDecode(b *testing.B) {
	data, err := Encode(countLoop(1000))
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Decode(data)
	}
}

func BenchmarkOptimize(b *testing.B) {
	p := countLoop(1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Optimize(p)
	}
}
