package server

import (
	"context"
	"errors"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vcokltfre/vvm/asm"
)

// ---------------------------------------------------------------------------
// Run over Connect
// ---------------------------------------------------------------------------

func TestRun_Source(t *testing.T) {
	_, client := newTestServer(t, 0)

	resp, err := client.Run(bg(), &RunRequest{Source: counterSource})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !resp.Halted || !resp.Exited || resp.ExitCode != 10 {
		t.Errorf("resp = %+v, want exit 10", resp)
	}
	if resp.Fault != nil {
		t.Errorf("unexpected fault: %+v", resp.Fault)
	}
	if _, err := uuid.Parse(resp.RunID); err != nil {
		t.Errorf("RunID %q is not a UUID: %v", resp.RunID, err)
	}
	if resp.Steps == 0 {
		t.Error("Steps should be counted")
	}
}

func TestRun_BytecodeOptimized(t *testing.T) {
	_, client := newTestServer(t, 0)

	data, err := asm.Assemble(counterSource)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	plain, err := client.Run(bg(), &RunRequest{Bytecode: data})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	optimized, err := client.Run(bg(), &RunRequest{Bytecode: data, Optimize: true})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if plain.ExitCode != 10 || optimized.ExitCode != 10 {
		t.Errorf("exit codes = %d, %d; want 10, 10", plain.ExitCode, optimized.ExitCode)
	}
	// The peephole pass rewrites in place, so the step count is unchanged.
	if optimized.Steps != plain.Steps {
		t.Errorf("optimized run took %d steps, plain %d", optimized.Steps, plain.Steps)
	}
	if plain.RunID == optimized.RunID {
		t.Error("run IDs should differ")
	}
}

func TestRun_OutputAndInput(t *testing.T) {
	_, client := newTestServer(t, 0)

	resp, err := client.Run(bg(), &RunRequest{
		Source: `
PUSHS "hello, "
CALLNATIVE readline
CALLNATIVE concat
CALLNATIVE println
PUSHI 7
`,
		Input:  "world\n",
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.Output != "hello, world\n" {
		t.Errorf("Output = %q", resp.Output)
	}
	if resp.Exited {
		t.Error("program without EXIT reported Exited")
	}
	if len(resp.Stack) != 1 || resp.Stack[0] != "int(7)" {
		t.Errorf("Stack = %v, want [int(7)]", resp.Stack)
	}
}

func TestRun_Fault(t *testing.T) {
	_, client := newTestServer(t, 0)

	resp, err := client.Run(bg(), &RunRequest{Source: "PUSHI 1\nPUSHI 0\nDIV\n"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.Fault == nil {
		t.Fatal("expected a fault")
	}
	if resp.Fault.Kind != "division by zero" || resp.Fault.Addr != 2 || resp.Fault.Instr != "DIV" {
		t.Errorf("Fault = %+v", resp.Fault)
	}
	if !resp.Halted || resp.Exited {
		t.Errorf("resp = %+v", resp)
	}
}

func TestRun_StepBudget(t *testing.T) {
	_, client := newTestServer(t, 500)

	loop := "LABEL top\nJMP top\n"
	resp, err := client.Run(bg(), &RunRequest{Source: loop})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.Fault == nil || resp.Fault.Kind != "step limit exceeded" {
		t.Fatalf("Fault = %+v, want step limit exceeded", resp.Fault)
	}
	if resp.Steps != 500 {
		t.Errorf("Steps = %d, want the server budget of 500", resp.Steps)
	}

	// A request can lower the budget but not raise it.
	resp, err = client.Run(bg(), &RunRequest{Source: loop, StepLimit: 20})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.Steps != 20 {
		t.Errorf("Steps = %d, want 20", resp.Steps)
	}
	resp, err = client.Run(bg(), &RunRequest{Source: loop, StepLimit: 1_000_000})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.Steps != 500 {
		t.Errorf("Steps = %d, want 500", resp.Steps)
	}
}

// ---------------------------------------------------------------------------
// Run over Connect: invalid requests
// ---------------------------------------------------------------------------

func TestRun_InvalidArgument(t *testing.T) {
	_, client := newTestServer(t, 0)

	tests := []struct {
		name string
		req  *RunRequest
		msg  string
	}{
		{"empty", &RunRequest{}, "required"},
		{"both", &RunRequest{Source: "POP", Bytecode: []byte{0x15}}, "not both"},
		{"syntax error", &RunRequest{Source: "NOP"}, "unknown mnemonic"},
		{"bad bytecode", &RunRequest{Bytecode: []byte{0xEE}}, "unknown opcode"},
		{"unresolved label", &RunRequest{Bytecode: []byte{0x60, 0x01, 'x'}, Optimize: true}, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Run(bg(), tt.req)
			if connect.CodeOf(err) != connect.CodeInvalidArgument {
				t.Fatalf("code = %v (%v), want invalid_argument", connect.CodeOf(err), err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error %q does not mention %q", err, tt.msg)
			}
		})
	}
}

func TestRun_Canceled(t *testing.T) {
	s := New(0)
	defer s.Stop()

	ctx, cancel := context.WithCancel(bg())
	cancel()
	_, err := s.exec.Execute(ctx, &RunRequest{Source: "LABEL top\nJMP top\n"})
	if connect.CodeOf(err) != connect.CodeCanceled {
		t.Errorf("code = %v (%v), want canceled", connect.CodeOf(err), err)
	}
}

// ---------------------------------------------------------------------------
// Run over gRPC
// ---------------------------------------------------------------------------

func TestGRPC_MatchesConnect(t *testing.T) {
	s, client := newTestServer(t, 0)
	gc := newBufconnClient(t, s)

	req := &RunRequest{Source: counterSource, Optimize: true}
	viaConnect, err := client.Run(bg(), req)
	if err != nil {
		t.Fatalf("Connect Run: %v", err)
	}
	viaGRPC, err := gc.Run(bg(), req)
	if err != nil {
		t.Fatalf("gRPC Run: %v", err)
	}

	if viaGRPC.ExitCode != viaConnect.ExitCode || viaGRPC.Steps != viaConnect.Steps || viaGRPC.Exited != viaConnect.Exited {
		t.Errorf("gRPC = %+v, Connect = %+v", viaGRPC, viaConnect)
	}
	if viaGRPC.RunID == "" || viaGRPC.RunID == viaConnect.RunID {
		t.Errorf("RunID = %q", viaGRPC.RunID)
	}
}

func TestGRPC_InvalidArgument(t *testing.T) {
	s, _ := newTestServer(t, 0)
	gc := newBufconnClient(t, s)

	_, err := gc.Run(bg(), &RunRequest{Source: "NOP"})
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.InvalidArgument {
		t.Fatalf("err = %v, want InvalidArgument status", err)
	}
	if !strings.Contains(st.Message(), "unknown mnemonic") {
		t.Errorf("message = %q", st.Message())
	}
}

// ---------------------------------------------------------------------------
// Codec
// ---------------------------------------------------------------------------

func TestCodecCanonical(t *testing.T) {
	c := cborCodec{}
	if c.Name() != "cbor" {
		t.Errorf("Name() = %q", c.Name())
	}

	in := &RunResponse{RunID: "r", Exited: true, ExitCode: -3, Stack: []string{"int(1)"}, Fault: &Fault{Kind: "k"}}
	a, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, _ := c.Marshal(in)
	if string(a) != string(b) {
		t.Error("encoding is not deterministic")
	}

	var out RunResponse
	if err := c.Unmarshal(a, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.ExitCode != -3 || out.Fault == nil || out.Fault.Kind != "k" || len(out.Stack) != 1 {
		t.Errorf("decoded %+v", out)
	}

	if err := c.Unmarshal([]byte{0xff}, &out); err == nil {
		t.Error("expected error for malformed CBOR")
	}
}

func TestToStatusError(t *testing.T) {
	err := toStatusError(connect.NewError(connect.CodeNotFound, errors.New("gone")))
	if st, _ := status.FromError(err); st.Code() != codes.NotFound || st.Message() != "gone" {
		t.Errorf("status = %v", st)
	}
	if st, _ := status.FromError(toStatusError(errors.New("x"))); st.Code() != codes.Unknown {
		t.Errorf("plain error mapped to %v", st.Code())
	}
}
