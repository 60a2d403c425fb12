// Package manifest handles vvm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the project configuration file.
const FileName = "vvm.toml"

// Manifest represents a vvm.toml project configuration.
type Manifest struct {
	Project Project      `toml:"project"`
	Build   BuildConfig  `toml:"build"`
	Run     RunConfig    `toml:"run"`
	Log     LogConfig    `toml:"log"`
	Server  ServerConfig `toml:"server"`

	// Dir is the directory containing the vvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// BuildConfig configures assembly.
type BuildConfig struct {
	Entry    string `toml:"entry"`    // Assembly source, relative to Dir
	Output   string `toml:"output"`   // Bytecode output, relative to Dir
	Optimize *bool  `toml:"optimize"` // Optimize before writing; default true
}

// RunConfig configures program execution.
type RunConfig struct {
	Trace     bool     `toml:"trace"`
	StepLimit uint64   `toml:"step-limit"` // 0 means unlimited
	Natives   []string `toml:"natives"`    // Empty means all standard natives
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// ServerConfig configures the execution service.
type ServerConfig struct {
	Addr      string `toml:"addr"`
	GRPCAddr  string `toml:"grpc-addr"`
	StepLimit uint64 `toml:"step-limit"`
}

// Default returns the configuration used when no vvm.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Build.Entry == "" {
		m.Build.Entry = "main.vasm"
	}
	if m.Build.Output == "" {
		m.Build.Output = "main.vbc"
	}
	if m.Build.Optimize == nil {
		optimize := true
		m.Build.Optimize = &optimize
	}
	if m.Server.Addr == "" {
		m.Server.Addr = "localhost:8740"
	}
	if m.Server.StepLimit == 0 {
		m.Server.StepLimit = 10_000_000
	}
}

// Load parses a vvm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a vvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Save writes m as vvm.toml in dir, refusing to overwrite an existing file.
func (m *Manifest) Save(dir string) error {
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	if err := toml.NewEncoder(f).Encode(m); err != nil {
		f.Close()
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return f.Close()
}

// ShouldOptimize reports whether builds run the optimizer.
func (m *Manifest) ShouldOptimize() bool {
	return m.Build.Optimize == nil || *m.Build.Optimize
}

// EntryPath returns the absolute path of the assembly entry file.
func (m *Manifest) EntryPath() string {
	return m.resolve(m.Build.Entry)
}

// OutputPath returns the absolute path of the bytecode output file.
func (m *Manifest) OutputPath() string {
	return m.resolve(m.Build.Output)
}

// LogPath returns the absolute path of the log file, or "" for stderr.
func (m *Manifest) LogPath() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
