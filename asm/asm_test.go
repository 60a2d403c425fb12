package asm

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/vcokltfre/vvm/pkg/bytecode"
)

const counter = `
# Count to ten and exit with the counter.
    PUSHI 0
    STORE_IMM i
LABEL loop
    LOAD_IMM i
    ADDI 1
    STORE_IMM i
    LOAD_IMM i
    PUSHI 10
    CMPLT
    JMPIF loop
    LOAD_IMM i
    EXIT
`

func TestParse(t *testing.T) {
	p, err := Parse(counter)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if p.Len() != 11 {
		t.Errorf("got %d instructions, want 11", p.Len())
	}
	if addr, ok := p.Lookup("loop"); !ok || addr != 2 {
		t.Errorf("loop = %d, %v; want 2", addr, ok)
	}
	if p.Instructions[3] != bytecode.IntOp(bytecode.OpAddI, 1) {
		t.Errorf("instruction 3 = %v", p.Instructions[3])
	}
	if p.Instructions[8] != bytecode.JumpIf("loop") {
		t.Errorf("instruction 8 = %v", p.Instructions[8])
	}
}

func TestParseOperands(t *testing.T) {
	tests := []struct {
		src  string
		want bytecode.Instruction
	}{
		{"EXIT_IMM 255", bytecode.ExitImmediate(255)},
		{"PUSHI -9223372036854775808", bytecode.PushInt(math.MinInt64)},
		{"PUSHU 18446744073709551615", bytecode.PushUInt(math.MaxUint64)},
		{"PUSHF 2.5", bytecode.PushFloat(2.5)},
		{"PUSHF -1e-3", bytecode.PushFloat(-0.001)},
		{"PUSHF +Inf", bytecode.PushFloat(math.Inf(1))},
		{"PUSHB true", bytecode.PushBool(true)},
		{"PUSHB false", bytecode.PushBool(false)},
		{`PUSHS "tab\there \"quoted\""`, bytecode.PushString("tab\there \"quoted\"")},
		{`PUSHS hello world\n`, bytecode.PushString("hello world\n")},
		{"PUSHS `raw \\n`", bytecode.PushString(`raw \n`)},
		{"SUBU 3", bytecode.UIntOp(bytecode.OpSubU, 3)},
		{"EXPF 0.5", bytecode.FloatOp(bytecode.OpExpF, 0.5)},
		{"CALLNATIVE println", bytecode.CallNative("println")},
		{"  swap  ", bytecode.Op(bytecode.OpSwap)},
		// Compatibility forms
		{"EXIT 3", bytecode.ExitImmediate(3)},
		{"LOAD x", bytecode.LoadImm("x")},
		{"STORE x", bytecode.StoreImm("x")},
		{"FREE x", bytecode.FreeImm("x")},
		{"LOAD", bytecode.Op(bytecode.OpLoad)},
	}

	for _, tt := range tests {
		p, err := Parse(tt.src)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tt.src, err)
			continue
		}
		if p.Len() != 1 || p.Instructions[0] != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.src, p.Instructions, tt.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		col  int
		msg  string
	}{
		{"unknown mnemonic", "NOP", 1, 1, "unknown mnemonic"},
		{"missing operand", "\n  PUSHI", 2, 3, "needs a i64 operand"},
		{"extra operand", "POP 1", 1, 5, "takes no operand"},
		{"bad int", "PUSHI ten", 1, 7, `"ten"`},
		{"u8 overflow", "EXIT_IMM 256", 1, 10, "out of range"},
		{"bad bool", "PUSHB maybe", 1, 7, "PUSHB"},
		{"bad string", `PUSHS "open`, 1, 7, "malformed string literal"},
		{"name with space", "LOAD_IMM a b", 1, 10, "after name"},
		{"long name", "JMP " + strings.Repeat("x", 256), 1, 5, "limit is 255"},
		{"undefined label", "JMP nowhere", 1, 5, `undefined label "nowhere"`},
		{"duplicate label", "LABEL a\nPOP\nLABEL a", 3, 7, "already defined at line 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.src)
			if p != nil {
				t.Error("Parse returned a program despite errors")
			}
			var list ErrorList
			if !errors.As(err, &list) || len(list) == 0 {
				t.Fatalf("error %v is not a non-empty ErrorList", err)
			}
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("error %v does not unwrap to *SyntaxError", err)
			}
			if se.Pos.Line != tt.line || se.Pos.Column != tt.col {
				t.Errorf("position = %s, want %d:%d", se.Pos, tt.line, tt.col)
			}
			if !strings.Contains(se.Msg, tt.msg) {
				t.Errorf("message %q does not contain %q", se.Msg, tt.msg)
			}
		})
	}
}

func TestParseCollectsAllErrors(t *testing.T) {
	u := ParseUnit("JMP b\nNOP\nPUSHI x\nLABEL a\nPOP")
	if len(u.Errors) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(u.Errors), u.Errors)
	}
	for i, line := range []int{1, 2, 3} {
		if u.Errors[i].Pos.Line != line {
			t.Errorf("error %d on line %d, want %d", i, u.Errors[i].Pos.Line, line)
		}
	}
	if !strings.Contains(u.Errors.Error(), "(and 2 more errors)") {
		t.Errorf("ErrorList.Error() = %q", u.Errors.Error())
	}
	// What did parse is still available.
	if u.Program.Len() != 2 {
		t.Errorf("partial program has %d instructions, want 2", u.Program.Len())
	}
	if _, ok := u.Labels["a"]; !ok {
		t.Error("label a missing from partial unit")
	}
}

func TestStatementPositions(t *testing.T) {
	u := ParseUnit("LABEL top\n    JMP   top\n")
	if len(u.Statements) != 2 {
		t.Fatalf("got %d statements", len(u.Statements))
	}
	jmp := u.Statements[1]
	if jmp.Pos.Line != 2 || jmp.Pos.Column != 5 {
		t.Errorf("JMP at %s, want 2:5", jmp.Pos)
	}
	if jmp.OperandPos.Column != 11 || jmp.Operand != "top" {
		t.Errorf("operand %q at %s, want top at 2:11", jmp.Operand, jmp.OperandPos)
	}
	if jmp.OperandPos.Offset != len("LABEL top\n    JMP   ") {
		t.Errorf("operand offset = %d", jmp.OperandPos.Offset)
	}
	if def := u.Labels["top"]; def.Line != 1 || def.Column != 7 {
		t.Errorf("label defined at %s, want 1:7", def)
	}
}

func TestAssembleMatchesEncode(t *testing.T) {
	data, err := Assemble(counter)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	p, err := bytecode.Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	src, _ := Parse(counter)
	if !p.Equal(src) {
		t.Errorf("decoded program differs from parsed program:\n%s", bytecode.Disassemble(p))
	}
}

// Decode, optimize, print, reparse and re-encode must be stable for an
// optimized program.
func TestDisassembleRoundTrip(t *testing.T) {
	src := counter + `
    CALL sub
LABEL sub
    PUSHS "line one\nline \"two\""
    PUSHF 2
    PUSHF 0.1
    PUSHU 7
    CALLNATIVE print
    RET
LABEL end
`
	data, err := Assemble(src)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	decoded, err := bytecode.Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	optimized, err := bytecode.Optimize(decoded)
	if err != nil {
		t.Fatalf("Optimize error: %v", err)
	}
	want, err := bytecode.Encode(optimized)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	text := bytecode.Disassemble(optimized)
	reparsed, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(Disassemble) error: %v\n%s", err, text)
	}
	if !reparsed.Equal(optimized) {
		t.Errorf("reparsed program differs:\n%s\nwant\n%s", bytecode.Disassemble(reparsed), text)
	}
	got, err := bytecode.Encode(reparsed)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("re-encoded bytes differ")
	}

	again, err := bytecode.Optimize(reparsed)
	if err != nil {
		t.Fatalf("second Optimize error: %v", err)
	}
	if bytecode.Disassemble(again) != text {
		t.Errorf("pipeline is not idempotent:\n%s\nvs\n%s", bytecode.Disassemble(again), text)
	}
}

func TestQuotedNamesRoundTrip(t *testing.T) {
	p := bytecode.NewProgram()
	p.Mark("top of loop")
	p.Emit(bytecode.PushInt(1))
	p.Emit(bytecode.StoreImm("my var"))
	p.Emit(bytecode.LoadImm("my var"))
	p.Emit(bytecode.StoreImm(""))
	p.Emit(bytecode.FreeImm("a\tb"))
	p.Emit(bytecode.LoadImm(`"quoted`))
	p.Emit(bytecode.CallNative("no such native"))
	p.Emit(bytecode.JumpIf("top of loop"))
	p.Emit(bytecode.Jump(""))
	p.Mark("")

	data, err := bytecode.Encode(p)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	decoded, err := bytecode.Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	optimized, err := bytecode.Optimize(decoded)
	if err != nil {
		t.Fatalf("Optimize error: %v", err)
	}

	for name, prog := range map[string]*bytecode.Program{"decoded": decoded, "optimized": optimized} {
		text := bytecode.Disassemble(prog)
		reparsed, err := Parse(text)
		if err != nil {
			t.Errorf("%s: Parse(Disassemble) error: %v\n%s", name, err, text)
			continue
		}
		if !reparsed.Equal(prog) {
			t.Errorf("%s: reparsed program differs:\n%s\nwant\n%s", name, bytecode.Disassemble(reparsed), text)
		}
		want, _ := bytecode.Encode(prog)
		got, err := bytecode.Encode(reparsed)
		if err != nil || !bytes.Equal(got, want) {
			t.Errorf("%s: re-encoding differs (err %v)", name, err)
		}
	}
}

func TestQuotedNameOperands(t *testing.T) {
	p, err := Parse("LABEL \"a b\"\nPUSHI 1\nSTORE_IMM `x y`\nJMP \"a b\"\n")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if addr, ok := p.Lookup("a b"); !ok || addr != 0 {
		t.Errorf(`Lookup("a b") = %d, %t`, addr, ok)
	}
	if got := p.Instructions[1]; got != bytecode.StoreImm("x y") {
		t.Errorf("instruction 1 = %v, want STORE_IMM of \"x y\"", got)
	}

	if _, err := Parse("LOAD_IMM \"open\n"); err == nil || !strings.Contains(err.Error(), "malformed quoted name") {
		t.Errorf("unterminated quote: err = %v", err)
	}
}
