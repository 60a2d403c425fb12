// Package server exposes the VM over the network and to editors: a remote
// execution service speaking Connect and gRPC, and a language server for
// assembly files.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
)

// VVMServer serves the execution service over Connect on an HTTP address
// and over gRPC on a second address.
type VVMServer struct {
	runner *Runner
	exec   *ExecutionService
	mux    *http.ServeMux
	grpc   *grpc.Server
	log    commonlog.Logger
}

// New creates a VVMServer whose runs are capped at stepLimit instructions
// (0 means unlimited).
func New(stepLimit uint64) *VVMServer {
	runner := NewRunner(stepLimit)
	exec := NewExecutionService(runner)

	s := &VVMServer{
		runner: runner,
		exec:   exec,
		mux:    http.NewServeMux(),
		grpc:   grpc.NewServer(),
		log:    commonlog.GetLogger("vvm.server"),
	}

	path, handler := runHandlerPath(exec)
	s.mux.Handle(path, handler)
	RegisterExecutionServer(s.grpc, exec)

	return s
}

// Handler returns the Connect HTTP handler.
func (s *VVMServer) Handler() http.Handler {
	return s.mux
}

// GRPC returns the gRPC server so callers can serve it on their own listener.
func (s *VVMServer) GRPC() *grpc.Server {
	return s.grpc
}

// ListenAndServe serves Connect on addr and, if grpcAddr is not empty, gRPC
// on grpcAddr. It blocks until ctx is done or a listener fails.
func (s *VVMServer) ListenAndServe(ctx context.Context, addr, grpcAddr string) error {
	httpServer := &http.Server{Addr: addr, Handler: s.mux}
	errc := make(chan error, 2)

	go func() { errc <- httpServer.ListenAndServe() }()
	s.log.Noticef("Connect (HTTP/CBOR): http://%s%s", addr, RunProcedure)

	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			httpServer.Close()
			return err
		}
		go func() { errc <- s.grpc.Serve(lis) }()
		s.log.Noticef("gRPC (CBOR):         grpc://%s", grpcAddr)
	}

	select {
	case err := <-errc:
		httpServer.Close()
		s.grpc.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.grpc.GracefulStop()
		return httpServer.Shutdown(context.Background())
	}
}

// Stop shuts down the gRPC server and the runner.
func (s *VVMServer) Stop() {
	s.grpc.Stop()
	s.runner.Stop()
}
