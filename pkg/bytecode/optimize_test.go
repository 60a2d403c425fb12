package bytecode

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestElideStoreLoad(t *testing.T) {
	p := NewProgram(StoreImm("x"), LoadImm("x"))

	out, err := Optimize(p)
	if err != nil {
		t.Fatalf("Optimize error: %v", err)
	}

	want := []Instruction{Op(OpDup), StoreImm("x")}
	if !slices.Equal(out.Instructions, want) {
		t.Errorf("got %v, want %v", out.Instructions, want)
	}
	// The input is left untouched.
	if p.Instructions[0] != StoreImm("x") || p.Instructions[1] != LoadImm("x") {
		t.Errorf("Optimize modified its input: %v", p.Instructions)
	}
}

func TestElideStoreLoadWindow(t *testing.T) {
	tests := []struct {
		name string
		in   []Instruction
		want []Instruction
	}{
		{
			name: "intervening instruction",
			in:   []Instruction{StoreImm("x"), Op(OpPop), LoadImm("x")},
			want: []Instruction{StoreImm("x"), Op(OpPop), LoadImm("x")},
		},
		{
			name: "different names",
			in:   []Instruction{StoreImm("x"), LoadImm("y")},
			want: []Instruction{StoreImm("x"), LoadImm("y")},
		},
		{
			name: "dynamic store",
			in:   []Instruction{Op(OpStore), LoadImm("x")},
			want: []Instruction{Op(OpStore), LoadImm("x")},
		},
		{
			name: "two pairs",
			in:   []Instruction{StoreImm("a"), LoadImm("a"), StoreImm("b"), LoadImm("b")},
			want: []Instruction{Op(OpDup), StoreImm("a"), Op(OpDup), StoreImm("b")},
		},
		{
			name: "rewritten store does not pair again",
			in:   []Instruction{StoreImm("x"), LoadImm("x"), LoadImm("x")},
			want: []Instruction{Op(OpDup), StoreImm("x"), LoadImm("x")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProgram(slices.Clone(tt.in)...)
			ElideStoreLoad(p)
			if !slices.Equal(p.Instructions, tt.want) {
				t.Errorf("got %v, want %v", p.Instructions, tt.want)
			}
		})
	}
}

func TestElideStoreLoadSkipsLabelledLoad(t *testing.T) {
	p := NewProgram()
	p.Emit(PushInt(1))
	p.Emit(StoreImm("x"))
	p.Mark("again")
	p.Emit(LoadImm("x"))
	p.Emit(Jump("again"))

	if n := ElideStoreLoad(p); n != 0 {
		t.Errorf("rewrote %d pairs across a label", n)
	}
}

func TestCanonicalizeLabels(t *testing.T) {
	p := NewProgram()
	p.Mark("main")
	p.Emit(Call("helper"))
	p.Emit(JumpIf("done"))
	p.Emit(Jump("main"))
	p.Mark("helper")
	p.Emit(CallNative("helper"))
	p.Emit(Op(OpRet))
	p.Mark("done")

	out, err := Optimize(p)
	if err != nil {
		t.Fatalf("Optimize error: %v", err)
	}

	want := []Instruction{Call("1"), JumpIf("2"), Jump("0"), CallNative("helper"), Op(OpRet)}
	if !slices.Equal(out.Instructions, want) {
		t.Errorf("got %v, want %v", out.Instructions, want)
	}

	wantLabels := map[string]int{"0": 0, "1": 3, "2": 5}
	for label, addr := range wantLabels {
		if got, ok := out.Lookup(label); !ok || got != addr {
			t.Errorf("label %s = %d, %v; want %d", label, got, ok, addr)
		}
	}
	if out.LabelCount() != 3 {
		t.Errorf("got %d labels, want 3", out.LabelCount())
	}
	if _, ok := p.Lookup("main"); !ok {
		t.Error("Optimize renamed labels in its input")
	}
}

func TestCanonicalizeLabelsDefinitionOrder(t *testing.T) {
	// Numbering follows the label table, not the order of use.
	p := NewProgram()
	p.Emit(Jump("b"))
	p.Mark("z")
	p.Emit(Jump("a"))
	p.Mark("b")
	p.Mark("a")

	if err := CanonicalizeLabels(p); err != nil {
		t.Fatalf("CanonicalizeLabels error: %v", err)
	}
	if got := strings.Join(p.LabelNames(), ","); got != "0,1,2" {
		t.Errorf("labels = %s, want 0,1,2", got)
	}
	if p.Instructions[0] != Jump("1") || p.Instructions[1] != Jump("2") {
		t.Errorf("got %v", p.Instructions)
	}
}

func TestCanonicalizeLabelsIdempotent(t *testing.T) {
	p := NewProgram()
	p.Mark("x")
	p.Emit(PushBool(true))
	p.Mark("y")
	p.Emit(JumpIf("x"))
	p.Emit(Jump("y"))

	once, err := Optimize(p)
	if err != nil {
		t.Fatalf("Optimize error: %v", err)
	}
	twice, err := Optimize(once)
	if err != nil {
		t.Fatalf("second Optimize error: %v", err)
	}
	if !twice.Equal(once) {
		t.Errorf("canonicalization is not idempotent:\n%s\nvs\n%s", Disassemble(once), Disassemble(twice))
	}
}

func TestCanonicalizeLabelsUnresolved(t *testing.T) {
	p := NewProgram(PushInt(1))
	p.Mark("known")
	p.Emit(Call("missing"))

	_, err := Optimize(p)
	if !errors.Is(err, ErrUnresolvedLabel) {
		t.Fatalf("got %v, want ErrUnresolvedLabel", err)
	}
	var oe *OptimizeError
	if !errors.As(err, &oe) {
		t.Fatalf("error %T is not an *OptimizeError", err)
	}
	if oe.Addr != 1 || oe.Label != "missing" {
		t.Errorf("got addr %d label %q, want 1 %q", oe.Addr, oe.Label, "missing")
	}

	// CallNative names are not labels.
	if _, err := Optimize(NewProgram(CallNative("missing"))); err != nil {
		t.Errorf("CallNative target treated as label: %v", err)
	}
}

func TestOptimizePreservesBehaviour(t *testing.T) {
	p := NewProgram()
	p.Emit(PushInt(0))
	p.Emit(StoreImm("i"))
	p.Mark("loop")
	p.Emit(LoadImm("i"))
	p.Emit(IntOp(OpAddI, 1))
	p.Emit(StoreImm("i"))
	p.Emit(LoadImm("i"))
	p.Emit(PushInt(5))
	p.Emit(Op(OpCmpLessThan))
	p.Emit(JumpIf("loop"))
	p.Emit(LoadImm("i"))
	p.Emit(Op(OpExit))

	out, err := Optimize(p)
	if err != nil {
		t.Fatalf("Optimize error: %v", err)
	}
	if out.Instructions[4] != Op(OpDup) {
		t.Errorf("expected store/load pair at 4 to be elided, got %v", out.Instructions[4])
	}

	for _, prog := range []*Program{p, out} {
		status, err := New(prog).Run()
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
		if !status.Exited || status.Code != 5 {
			t.Errorf("status = %+v, want exit 5", status)
		}
	}
}
