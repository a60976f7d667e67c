package sandbox

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// LanguageConfig describes how one language is compiled and run inside a
// sandbox container. Configs are immutable after registry construction and
// shared by every session of that language.
type LanguageConfig struct {
	// ID is the registry key, e.g. "python".
	ID string
	// DisplayName is the human-readable name, e.g. "Python 3".
	DisplayName string
	// Image is the container image reference for this language's sandbox.
	Image string
	// FileExtension includes the dot, e.g. ".py".
	FileExtension string
	// SourceFile overrides the in-container source filename. Empty means
	// "main" + FileExtension. Java needs "Main.java" to satisfy javac.
	SourceFile string
	// CompileCommand is the argv template for the compile step, with
	// "{file}" as the source path placeholder. Nil for interpreted
	// languages.
	CompileCommand []string
	// RunCommand is the argv template for the run step.
	RunCommand []string
	// Env is extra environment for both steps (cache dirs on tmpfs, etc.).
	Env []string
	// DefaultTimeout bounds the whole compile+run cycle.
	DefaultTimeout time.Duration
	// MemoryLimit caps container memory in bytes. Swap is pinned to the
	// same value so the cap is hard.
	MemoryLimit int64
	// PidsLimit caps processes inside the container.
	PidsLimit int64
	// CPULimit caps CPU in cores (1.0 = one core).
	CPULimit float64
	// NetworkDisabled and RunAsNonRoot are policy: always true for every
	// built-in config. Kept explicit so a config dump shows the posture.
	NetworkDisabled bool
	RunAsNonRoot    bool
}

// Compiled reports whether this language has a separate compile step.
func (c LanguageConfig) Compiled() bool { return len(c.CompileCommand) > 0 }

// SourceName returns the in-container source filename. The name is fixed
// per language; request bytes never influence it.
func (c LanguageConfig) SourceName() string {
	if c.SourceFile != "" {
		return c.SourceFile
	}
	return "main" + c.FileExtension
}

// renderArgv substitutes the source path into a command template. The path
// is a fixed, engine-chosen constant — untrusted request bytes never appear
// in an argv.
func renderArgv(template []string, path string) []string {
	out := make([]string, len(template))
	for i, tok := range template {
		out[i] = strings.ReplaceAll(tok, "{file}", path)
	}
	return out
}

// LanguageInfo is the public view of a language: the fields exposed by
// Engine.Languages. Image and command internals stay private.
type LanguageInfo struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	FileExtension string `json:"fileExtension"`
}

// Registry is a static catalog mapping language identifiers to their
// configs. Read-only after construction; Resolve does no I/O.
type Registry struct {
	configs map[string]LanguageConfig
}

// NewRegistry builds a registry from the built-in catalog, with overrides
// applied on top. An override with a new ID adds a language; an override
// matching a built-in ID replaces it wholesale.
func NewRegistry(overrides ...LanguageConfig) *Registry {
	configs := make(map[string]LanguageConfig, len(builtinLanguages)+len(overrides))
	for _, c := range builtinLanguages {
		configs[c.ID] = c
	}
	for _, c := range overrides {
		configs[c.ID] = c
	}
	return &Registry{configs: configs}
}

// Resolve returns the config for id, or ErrUnsupportedLanguage.
func (r *Registry) Resolve(id string) (LanguageConfig, error) {
	c, ok := r.configs[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return LanguageConfig{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, id)
	}
	return c, nil
}

// List returns the public view of every registered language, sorted by ID.
func (r *Registry) List() []LanguageInfo {
	out := make([]LanguageInfo, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, LanguageInfo{ID: c.ID, DisplayName: c.DisplayName, FileExtension: c.FileExtension})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

const (
	defaultInterpretedTimeout = 10 * time.Second
	defaultCompiledTimeout    = 20 * time.Second

	mb = 1024 * 1024
)

// builtinLanguages is the default catalog. Toolchain caches are pointed at
// /tmp, which the docker backend mounts as a writable tmpfs; everything else
// in the container is read-only.
var builtinLanguages = []LanguageConfig{
	{
		ID:              "python",
		DisplayName:     "Python 3",
		Image:           "python:3.12-alpine",
		FileExtension:   ".py",
		RunCommand:      []string{"python3", "-u", "{file}"},
		Env:             []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"},
		DefaultTimeout:  defaultInterpretedTimeout,
		MemoryLimit:     256 * mb,
		PidsLimit:       64,
		CPULimit:        0.5,
		NetworkDisabled: true,
		RunAsNonRoot:    true,
	},
	{
		ID:              "javascript",
		DisplayName:     "JavaScript (Node.js)",
		Image:           "node:20-alpine",
		FileExtension:   ".js",
		RunCommand:      []string{"node", "{file}"},
		DefaultTimeout:  defaultInterpretedTimeout,
		MemoryLimit:     256 * mb,
		PidsLimit:       64,
		CPULimit:        0.5,
		NetworkDisabled: true,
		RunAsNonRoot:    true,
	},
	{
		ID:              "typescript",
		DisplayName:     "TypeScript",
		Image:           "jerewy/codejoin-typescript:20",
		FileExtension:   ".ts",
		RunCommand:      []string{"tsx", "{file}"},
		DefaultTimeout:  defaultInterpretedTimeout,
		MemoryLimit:     384 * mb,
		PidsLimit:       64,
		CPULimit:        0.5,
		NetworkDisabled: true,
		RunAsNonRoot:    true,
	},
	{
		ID:              "go",
		DisplayName:     "Go",
		Image:           "golang:1.24-alpine",
		FileExtension:   ".go",
		CompileCommand:  []string{"go", "build", "-o", "main", "{file}"},
		RunCommand:      []string{"./main"},
		Env:             []string{"GO111MODULE=off", "GOCACHE=/tmp/gocache", "GOTMPDIR=/tmp", "HOME=/tmp", "CGO_ENABLED=0"},
		DefaultTimeout:  defaultCompiledTimeout,
		MemoryLimit:     512 * mb,
		PidsLimit:       128,
		CPULimit:        1.0,
		NetworkDisabled: true,
		RunAsNonRoot:    true,
	},
	{
		ID:              "c",
		DisplayName:     "C",
		Image:           "gcc:13-bookworm",
		FileExtension:   ".c",
		CompileCommand:  []string{"gcc", "-O2", "-o", "main", "{file}", "-lm"},
		RunCommand:      []string{"./main"},
		DefaultTimeout:  defaultCompiledTimeout,
		MemoryLimit:     256 * mb,
		PidsLimit:       64,
		CPULimit:        0.5,
		NetworkDisabled: true,
		RunAsNonRoot:    true,
	},
	{
		ID:              "cpp",
		DisplayName:     "C++",
		Image:           "gcc:13-bookworm",
		FileExtension:   ".cpp",
		CompileCommand:  []string{"g++", "-O2", "-std=c++17", "-o", "main", "{file}"},
		RunCommand:      []string{"./main"},
		DefaultTimeout:  defaultCompiledTimeout,
		MemoryLimit:     256 * mb,
		PidsLimit:       64,
		CPULimit:        0.5,
		NetworkDisabled: true,
		RunAsNonRoot:    true,
	},
	{
		ID:              "java",
		DisplayName:     "Java",
		Image:           "eclipse-temurin:21-jdk-jammy",
		FileExtension:   ".java",
		SourceFile:      "Main.java",
		CompileCommand:  []string{"javac", "{file}"},
		RunCommand:      []string{"java", "-cp", ".", "Main"},
		DefaultTimeout:  defaultCompiledTimeout,
		MemoryLimit:     512 * mb,
		PidsLimit:       128,
		CPULimit:        1.0,
		NetworkDisabled: true,
		RunAsNonRoot:    true,
	},
	{
		ID:              "csharp",
		DisplayName:     "C#",
		Image:           "mono:6.12",
		FileExtension:   ".cs",
		CompileCommand:  []string{"mcs", "-out:main.exe", "{file}"},
		RunCommand:      []string{"mono", "main.exe"},
		DefaultTimeout:  defaultCompiledTimeout,
		MemoryLimit:     512 * mb,
		PidsLimit:       128,
		CPULimit:        1.0,
		NetworkDisabled: true,
		RunAsNonRoot:    true,
	},
	{
		ID:              "rust",
		DisplayName:     "Rust",
		Image:           "rust:1.79-slim",
		FileExtension:   ".rs",
		CompileCommand:  []string{"rustc", "-O", "-o", "main", "{file}"},
		RunCommand:      []string{"./main"},
		Env:             []string{"HOME=/tmp"},
		DefaultTimeout:  defaultCompiledTimeout,
		MemoryLimit:     512 * mb,
		PidsLimit:       128,
		CPULimit:        1.0,
		NetworkDisabled: true,
		RunAsNonRoot:    true,
	},
	{
		ID:              "swift",
		DisplayName:     "Swift",
		Image:           "swift:5.10",
		FileExtension:   ".swift",
		SourceFile:      "main.swift",
		CompileCommand:  []string{"swiftc", "-O", "-o", "main", "{file}"},
		RunCommand:      []string{"./main"},
		Env:             []string{"HOME=/tmp"},
		DefaultTimeout:  defaultCompiledTimeout,
		MemoryLimit:     512 * mb,
		PidsLimit:       128,
		CPULimit:        1.0,
		NetworkDisabled: true,
		RunAsNonRoot:    true,
	},
	{
		ID:              "sql",
		DisplayName:     "SQL (SQLite)",
		Image:           "keinos/sqlite3:latest",
		FileExtension:   ".sql",
		RunCommand:      []string{"sqlite3", "-batch", ":memory:", ".read {file}"},
		DefaultTimeout:  defaultInterpretedTimeout,
		MemoryLimit:     128 * mb,
		PidsLimit:       32,
		CPULimit:        0.5,
		NetworkDisabled: true,
		RunAsNonRoot:    true,
	},
}
