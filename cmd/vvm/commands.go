package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/vcokltfre/vvm/asm"
	"github.com/vcokltfre/vvm/lib/natives"
	"github.com/vcokltfre/vvm/manifest"
	"github.com/vcokltfre/vvm/pkg/bytecode"
	"github.com/vcokltfre/vvm/server"
)

const helloSource = `# Entry point created by vvm init.
    PUSHS "Hello, world!"
    CALLNATIVE println
    PUSHI 0
    EXIT
`

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("vvm "+name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// handleRunCommand processes the `vvm run` subcommand.
// Usage:
//
//	vvm run                      # [build].output from vvm.toml
//	vvm run count.vbc
//	vvm run -remote http://localhost:8740 count.vbc
func (c *cli) handleRunCommand(args []string) int {
	fs := c.flags("run")
	trace := fs.Bool("trace", c.manifest.Run.Trace, "Log every instruction executed")
	stepLimit := fs.Uint64("step-limit", c.manifest.Run.StepLimit, "Fault after `N` instructions (0 = unlimited)")
	remote := fs.String("remote", "", "Run on the execution service at `URL`")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := c.manifest.OutputPath()
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		c.reportError(path, err)
		return 1
	}

	if *remote != "" {
		return c.runRemote(*remote, &server.RunRequest{Bytecode: data, StepLimit: *stepLimit})
	}

	prog, err := bytecode.Decode(data)
	if err != nil {
		c.reportError(path, err)
		return 1
	}
	return c.execute(prog, *trace, *stepLimit)
}

// handleBuildCommand processes the `vvm build` subcommand.
// Usage:
//
//	vvm build                          # [build].entry → [build].output
//	vvm build count.vasm               # → count.vbc
//	vvm build -O=false count.vasm out.vbc
func (c *cli) handleBuildCommand(args []string) int {
	fs := c.flags("build")
	optimize := fs.Bool("O", c.manifest.ShouldOptimize(), "Optimize before writing")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	src, out := c.manifest.EntryPath(), c.manifest.OutputPath()
	if fs.NArg() > 0 {
		src = fs.Arg(0)
		out = strings.TrimSuffix(src, filepath.Ext(src)) + ".vbc"
	}
	if fs.NArg() > 1 {
		out = fs.Arg(1)
	}

	prog, err := c.assemble(src, *optimize)
	if err != nil {
		c.reportError(src, err)
		return 1
	}
	data, err := bytecode.Encode(prog)
	if err != nil {
		c.reportError(src, err)
		return 1
	}
	if err := c.writeOutput(out, data); err != nil {
		c.reportError(out, err)
		return 1
	}

	if c.verbose {
		fmt.Fprintf(c.stderr, "Wrote %d bytes (%d instructions, %d labels) to %s\n",
			len(data), prog.Len(), prog.LabelCount(), out)
	}
	return 0
}

// handleDisasmCommand processes the `vvm disasm` subcommand.
// Usage:
//
//	vvm disasm count.vbc               # assembly on stdout
//	vvm disasm count.vbc count.vasm
//	vvm disasm -listing count.vbc      # addresses and stack effects
func (c *cli) handleDisasmCommand(args []string) int {
	fs := c.flags("disasm")
	listing := fs.Bool("listing", false, "Print an annotated listing instead of assembly")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	in, out := c.manifest.OutputPath(), "-"
	if fs.NArg() > 0 {
		in = fs.Arg(0)
	}
	if fs.NArg() > 1 {
		out = fs.Arg(1)
	}

	data, err := os.ReadFile(in)
	if err != nil {
		c.reportError(in, err)
		return 1
	}
	prog, err := bytecode.Decode(data)
	if err != nil {
		c.reportError(in, err)
		return 1
	}

	var text string
	if *listing {
		text = bytecode.Listing(prog)
		if out == "-" {
			text = c.highlightListing(text)
		}
	} else {
		text = bytecode.Disassemble(prog)
	}
	if err := c.writeOutput(out, []byte(text)); err != nil {
		c.reportError(out, err)
		return 1
	}
	return 0
}

// handleExecCommand processes the `vvm exec` subcommand: assemble and run
// without writing bytecode.
func (c *cli) handleExecCommand(args []string) int {
	fs := c.flags("exec")
	optimize := fs.Bool("O", c.manifest.ShouldOptimize(), "Optimize before running")
	trace := fs.Bool("trace", c.manifest.Run.Trace, "Log every instruction executed")
	stepLimit := fs.Uint64("step-limit", c.manifest.Run.StepLimit, "Fault after `N` instructions (0 = unlimited)")
	remote := fs.String("remote", "", "Run on the execution service at `URL`")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := c.manifest.EntryPath()
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	if *remote != "" {
		src, err := os.ReadFile(path)
		if err != nil {
			c.reportError(path, err)
			return 1
		}
		return c.runRemote(*remote, &server.RunRequest{Source: string(src), Optimize: *optimize, StepLimit: *stepLimit})
	}

	prog, err := c.assemble(path, *optimize)
	if err != nil {
		c.reportError(path, err)
		return 1
	}
	return c.execute(prog, *trace, *stepLimit)
}

// handleServeCommand processes the `vvm serve` subcommand.
func (c *cli) handleServeCommand(args []string) int {
	cfg := c.manifest.Server
	fs := c.flags("serve")
	addr := fs.String("addr", cfg.Addr, "Connect (HTTP) listen `address`")
	grpcAddr := fs.String("grpc-addr", cfg.GRPCAddr, "gRPC listen `address` (empty disables gRPC)")
	stepLimit := fs.Uint64("step-limit", cfg.StepLimit, "Per-run instruction budget (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(*stepLimit)
	defer srv.Stop()
	if err := srv.ListenAndServe(ctx, *addr, *grpcAddr); err != nil {
		c.fault.Fprintf(c.stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}

// handleLspCommand processes the `vvm lsp` subcommand.
func (c *cli) handleLspCommand(args []string) int {
	if len(args) > 0 {
		fmt.Fprintln(c.stderr, "Usage: vvm lsp")
		return 2
	}
	if err := server.NewLSP().Run(); err != nil {
		c.fault.Fprintf(c.stderr, "LSP error: %v\n", err)
		return 1
	}
	return 0
}

// handleInitCommand processes the `vvm init` subcommand: write a vvm.toml
// and, if missing, a hello-world entry file.
func (c *cli) handleInitCommand(args []string) int {
	fs := c.flags("init")
	name := fs.String("name", "", "Project name (default: directory name)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	dir := "."
	if fs.NArg() > 0 {
		dir = fs.Arg(0)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		c.reportError(dir, err)
		return 1
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		c.reportError(dir, err)
		return 1
	}

	m := manifest.Default()
	m.Project.Name = *name
	if m.Project.Name == "" {
		m.Project.Name = filepath.Base(abs)
	}
	m.Project.Version = "0.1.0"
	if err := m.Save(abs); err != nil {
		c.reportError(dir, err)
		return 1
	}
	fmt.Fprintf(c.stdout, "Created %s\n", filepath.Join(dir, manifest.FileName))

	entry := filepath.Join(abs, m.Build.Entry)
	if _, err := os.Stat(entry); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(entry, []byte(helloSource), 0644); err != nil {
			c.reportError(entry, err)
			return 1
		}
		fmt.Fprintf(c.stdout, "Created %s\n", filepath.Join(dir, m.Build.Entry))
	}
	return 0
}

// assemble reads and parses an assembly file, optionally optimizing it.
func (c *cli) assemble(path string, optimize bool) (*bytecode.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	prog, err := asm.Parse(string(src))
	if err != nil {
		return nil, err
	}
	if optimize {
		return bytecode.Optimize(prog)
	}
	return prog, nil
}

// execute runs prog locally with the configured natives and returns the
// process exit status: the program's exit code, 0 when it runs off the end,
// or 1 on a fault.
func (c *cli) execute(prog *bytecode.Program, trace bool, stepLimit uint64) int {
	opts := []bytecode.Option{bytecode.WithStepLimit(stepLimit)}
	if trace {
		c.enableTrace()
		opts = append(opts, bytecode.WithTrace())
	}

	vm := bytecode.New(prog, opts...)
	if err := natives.NewHost(c.stdin, c.stdout).Register(vm, c.manifest.Run.Natives...); err != nil {
		c.reportError(manifest.FileName, err)
		return 1
	}

	status, err := vm.Run()
	c.log.Debugf("halted after %d steps", vm.Steps())
	if err != nil {
		c.reportFault(err)
		return 1
	}
	if status.Exited {
		return int(status.Code)
	}
	return 0
}

// runRemote sends req to the execution service at url and mirrors the
// result locally.
func (c *cli) runRemote(url string, req *server.RunRequest) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	resp, err := server.NewClient(http.DefaultClient, url).Run(ctx, req)
	if err != nil {
		c.fault.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	io.WriteString(c.stdout, resp.Output)
	c.log.Infof("remote run %s: %d steps", resp.RunID, resp.Steps)

	if resp.Fault != nil {
		c.reportFault(errors.New(resp.Fault.Message))
		return 1
	}
	if resp.Exited {
		return int(resp.ExitCode)
	}
	return 0
}
