// vvm CLI - assembles, inspects and runs vvm bytecode programs
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"

	"github.com/vcokltfre/vvm/manifest"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// cli carries the state shared by every subcommand.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	verbose   bool
	verbosity int
	logPath   *string
	manifest  *manifest.Manifest

	fault  *color.Color // Faults and syntax errors
	accent *color.Color // Labels in listings
	log    commonlog.Logger
}

// run executes the command line args and returns the process exit status.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vvm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "Verbose output and debug logging")
	logFile := fs.String("log", "", "Write logs to `FILE` instead of stderr")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vvm [options] <command> [args...]\n\n")
		fmt.Fprintf(stderr, "Assembles, inspects and runs vvm bytecode.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nCommands:\n")
		fmt.Fprintf(stderr, "  run [FILE.vbc]               Run bytecode\n")
		fmt.Fprintf(stderr, "  build [FILE.vasm [OUT.vbc]]  Assemble to bytecode\n")
		fmt.Fprintf(stderr, "  disasm [FILE.vbc [OUT|-]]    Disassemble bytecode\n")
		fmt.Fprintf(stderr, "  exec [FILE.vasm]             Assemble and run in one step\n")
		fmt.Fprintf(stderr, "  serve                        Start the execution service\n")
		fmt.Fprintf(stderr, "  lsp                          Start the assembly language server on stdio\n")
		fmt.Fprintf(stderr, "  init [DIR]                   Create vvm.toml and main.vasm\n")
		fmt.Fprintf(stderr, "\nWithout file arguments, paths come from the nearest vvm.toml.\n")
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  vvm build count.vasm count.vbc\n")
		fmt.Fprintf(stderr, "  vvm run count.vbc; echo $?\n")
		fmt.Fprintf(stderr, "  vvm disasm -listing count.vbc\n")
		fmt.Fprintf(stderr, "  vvm run -remote http://localhost:8740 count.vbc\n")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(stderr, "Error loading manifest: %v\n", err)
		return 1
	}
	if m == nil {
		m = manifest.Default()
	}

	c := &cli{
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		verbose:  *verbose,
		manifest: m,
		fault:    painter(stderr, color.FgRed, color.Bold),
		accent:   painter(stdout, color.FgCyan),
		log:      commonlog.GetLogger("vvm.cli"),
	}
	c.configureLogging(*logFile)

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "run":
		return c.handleRunCommand(rest)
	case "build":
		return c.handleBuildCommand(rest)
	case "disasm":
		return c.handleDisasmCommand(rest)
	case "exec":
		return c.handleExecCommand(rest)
	case "serve":
		return c.handleServeCommand(rest)
	case "lsp":
		return c.handleLspCommand(rest)
	case "init":
		return c.handleInitCommand(rest)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		fs.Usage()
		return 2
	}
}

// configureLogging applies -v, -log and the manifest's [log] section.
func (c *cli) configureLogging(logFile string) {
	c.verbosity = c.manifest.Log.Verbosity
	if c.verbose {
		c.verbosity = max(c.verbosity, 2)
	}
	switch {
	case logFile != "":
		c.logPath = &logFile
	case c.manifest.LogPath() != "":
		path := c.manifest.LogPath()
		c.logPath = &path
	}
	commonlog.Configure(c.verbosity, c.logPath)
}

// enableTrace raises logging to debug so per-instruction trace lines show.
func (c *cli) enableTrace() {
	if c.verbosity < 2 {
		c.verbosity = 2
		commonlog.Configure(c.verbosity, c.logPath)
	}
}
