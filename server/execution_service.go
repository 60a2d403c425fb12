package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vcokltfre/vvm/asm"
	"github.com/vcokltfre/vvm/lib/natives"
	"github.com/vcokltfre/vvm/pkg/bytecode"
)

const (
	// ExecutionServiceName is the fully-qualified service name.
	ExecutionServiceName = "vvm.v1.ExecutionService"

	// RunProcedure is the path of the Run method on both transports.
	RunProcedure = "/" + ExecutionServiceName + "/Run"
)

// RunRequest asks the server to execute one program. Exactly one of
// Bytecode and Source must be set.
type RunRequest struct {
	Bytecode  []byte `cbor:"bytecode,omitempty"`
	Source    string `cbor:"source,omitempty"`
	Optimize  bool   `cbor:"optimize,omitempty"`
	StepLimit uint64 `cbor:"step_limit,omitempty"` // 0 means the server's budget
	Input     string `cbor:"input,omitempty"`      // Read by the readline native
}

// RunResponse reports how a program stopped.
type RunResponse struct {
	RunID    string   `cbor:"run_id"`
	Halted   bool     `cbor:"halted"`
	Exited   bool     `cbor:"exited"`
	ExitCode int32    `cbor:"exit_code"`
	Stack    []string `cbor:"stack,omitempty"` // Bottom first
	Output   string   `cbor:"output,omitempty"`
	Steps    uint64   `cbor:"steps"`
	Fault    *Fault   `cbor:"fault,omitempty"`
}

// Fault describes the runtime fault that halted a program.
type Fault struct {
	Kind    string `cbor:"kind"`
	Addr    int    `cbor:"addr"`
	Instr   string `cbor:"instr"`
	Message string `cbor:"message"`
}

// ExecutionServer is the transport-independent execution API. The gRPC
// service descriptor dispatches to it.
type ExecutionServer interface {
	Execute(ctx context.Context, req *RunRequest) (*RunResponse, error)
}

// ExecutionService implements the ExecutionService Connect and gRPC handlers.
type ExecutionService struct {
	runner *Runner
	log    commonlog.Logger
}

// NewExecutionService creates an ExecutionService.
func NewExecutionService(runner *Runner) *ExecutionService {
	return &ExecutionService{
		runner: runner,
		log:    commonlog.GetLogger("vvm.server"),
	}
}

// Run is the Connect handler.
func (s *ExecutionService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	resp, err := s.Execute(ctx, req.Msg)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// Execute loads, optionally optimizes, and runs the requested program with
// the standard natives registered. A runtime fault is reported in the
// response; request problems and cancellation are returned as *connect.Error.
func (s *ExecutionService) Execute(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	prog, err := loadProgram(req)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	runID := uuid.NewString()
	limit := s.runner.Budget(req.StepLimit)

	result, err := s.runner.Do(ctx, func() (any, error) {
		var out bytes.Buffer
		vm := bytecode.New(prog, bytecode.WithStepLimit(limit))
		if err := natives.NewHost(strings.NewReader(req.Input), &out).Register(vm); err != nil {
			return nil, err
		}

		st, runErr := s.runner.Exec(ctx, vm)
		resp := &RunResponse{
			RunID:    runID,
			Halted:   vm.Halted(),
			Exited:   st.Exited,
			ExitCode: st.Code,
			Output:   out.String(),
			Steps:    vm.Steps(),
		}
		for _, v := range vm.Stack() {
			resp.Stack = append(resp.Stack, v.GoString())
		}

		var rt *bytecode.RuntimeError
		switch {
		case runErr == nil:
		case errors.As(runErr, &rt):
			resp.Fault = &Fault{
				Kind:    rt.Fault.String(),
				Addr:    rt.Addr,
				Instr:   rt.Instr.String(),
				Message: rt.Error(),
			}
		default:
			return nil, runErr
		}
		return resp, nil
	})
	if err != nil {
		s.log.Warningf("run %s failed: %v", runID, err)
		return nil, toConnectError(err)
	}

	resp := result.(*RunResponse)
	s.log.Infof("run %s: %d steps, exited=%t code=%d", runID, resp.Steps, resp.Exited, resp.ExitCode)
	return resp, nil
}

// loadProgram decodes or assembles the request's program.
func loadProgram(req *RunRequest) (*bytecode.Program, error) {
	var (
		prog *bytecode.Program
		err  error
	)
	switch {
	case len(req.Bytecode) > 0 && req.Source != "":
		return nil, errors.New("set bytecode or source, not both")
	case len(req.Bytecode) > 0:
		prog, err = bytecode.Decode(req.Bytecode)
	case req.Source != "":
		prog, err = asm.Parse(req.Source)
	default:
		return nil, errors.New("bytecode or source is required")
	}
	if err != nil {
		return nil, err
	}

	if req.Optimize {
		return bytecode.Optimize(prog)
	}
	return prog, nil
}

func toConnectError(err error) error {
	var ce *connect.Error
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// ---------------------------------------------------------------------------
// gRPC
// ---------------------------------------------------------------------------

// executionServiceDesc is the gRPC descriptor for ExecutionServer. Messages
// travel as CBOR, so there is no generated protobuf code behind it.
var executionServiceDesc = grpc.ServiceDesc{
	ServiceName: ExecutionServiceName,
	HandlerType: (*ExecutionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vvm/v1/execution.cbor",
}

// RegisterExecutionServer registers srv with a gRPC server.
func RegisterExecutionServer(gs grpc.ServiceRegistrar, srv ExecutionServer) {
	gs.RegisterService(&executionServiceDesc, srv)
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(ExecutionServer).Execute(ctx, req.(*RunRequest))
		if err != nil {
			return nil, toStatusError(err)
		}
		return resp, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunProcedure}
	return interceptor(ctx, in, info, handler)
}

// toStatusError maps a Connect error onto a gRPC status. The two protocols
// share code numbering.
func toStatusError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return status.Error(codes.Code(ce.Code()), ce.Message())
	}
	return status.Error(codes.Unknown, err.Error())
}

// ---------------------------------------------------------------------------
// Clients
// ---------------------------------------------------------------------------

// Client calls the execution service over Connect.
type Client struct {
	run *connect.Client[RunRequest, RunResponse]
}

// NewClient returns a Client for the server at baseURL, e.g.
// "http://localhost:8740".
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{connect.WithCodec(cborCodec{})}, opts...)
	return &Client{
		run: connect.NewClient[RunRequest, RunResponse](httpClient, strings.TrimRight(baseURL, "/")+RunProcedure, opts...),
	}
}

// Run executes req remotely.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp, err := c.run.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// GRPCClient calls the execution service over gRPC.
type GRPCClient struct {
	cc grpc.ClientConnInterface
}

// NewGRPCClient wraps an established connection.
func NewGRPCClient(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc}
}

// Run executes req remotely.
func (c *GRPCClient) Run(ctx context.Context, req *RunRequest, opts ...grpc.CallOption) (*RunResponse, error) {
	out := new(RunResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, RunProcedure, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// runHandlerPath returns the Connect mount point and handler for svc.
func runHandlerPath(svc *ExecutionService) (string, http.Handler) {
	return RunProcedure, connect.NewUnaryHandler(RunProcedure, svc.Run, connect.WithCodec(cborCodec{}))
}

var _ ExecutionServer = (*ExecutionService)(nil)
