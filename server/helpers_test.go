package server

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

const counterSource = `
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

// newTestServer starts a VVMServer behind an httptest server and returns a
// Connect client for it. Everything is torn down with the test.
func newTestServer(t *testing.T, stepLimit uint64) (*VVMServer, *Client) {
	t.Helper()
	s := New(stepLimit)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hs.Close()
		s.Stop()
	})
	return s, NewClient(hs.Client(), hs.URL)
}

// newBufconnClient serves s's gRPC side on an in-memory listener.
func newBufconnClient(t *testing.T, s *VVMServer) *GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go s.GRPC().Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewGRPCClient(conn)
}

func bg() context.Context {
	return context.Background()
}
