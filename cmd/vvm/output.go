package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/vcokltfre/vvm/asm"
)

// painter returns a color that is only applied when w is a terminal and
// NO_COLOR is unset.
func painter(w io.Writer, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if isTerminal(w) {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func isTerminal(w io.Writer) bool {
	// NO_COLOR convention: https://no-color.org/
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// reportError prints err to stderr. Syntax errors are listed one per line
// as file:line:col.
func (c *cli) reportError(file string, err error) {
	var list asm.ErrorList
	if errors.As(err, &list) {
		for _, e := range list {
			c.fault.Fprintf(c.stderr, "%s:%s: %s\n", file, e.Pos, e.Msg)
		}
		return
	}
	c.fault.Fprintf(c.stderr, "Error: %v\n", err)
}

// reportFault prints a runtime fault to stderr.
func (c *cli) reportFault(err error) {
	c.fault.Fprintf(c.stderr, "fault: %v\n", err)
}

// highlightListing colors the label lines of a listing.
func (c *cli) highlightListing(listing string) string {
	lines := strings.SplitAfter(listing, "\n")
	for i, line := range lines {
		if strings.HasSuffix(strings.TrimRight(line, "\n"), ":") {
			lines[i] = c.accent.Sprint(strings.TrimRight(line, "\n"))
			if strings.HasSuffix(line, "\n") {
				lines[i] += "\n"
			}
		}
	}
	return strings.Join(lines, "")
}

// writeOutput writes data to path, or to stdout when path is "-".
func (c *cli) writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := c.stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}
