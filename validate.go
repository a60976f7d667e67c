package sandbox

import "fmt"

// Validation limits. Oversized payloads are rejected here, before any
// container is provisioned.
const (
	// DefaultMaxSourceBytes bounds the source snippet.
	DefaultMaxSourceBytes = 256 * 1024
	// DefaultMaxStdinBytes bounds standard input.
	DefaultMaxStdinBytes = 64 * 1024
	// maxArgs and maxArgBytes bound the optional argument list.
	maxArgs     = 32
	maxArgBytes = 4096
)

// Validator checks an execution request against the registry and size
// limits. It has no side effects and touches no I/O.
type Validator struct {
	registry       *Registry
	maxSourceBytes int
	maxStdinBytes  int
}

// NewValidator builds a validator over registry. Non-positive limits fall
// back to the defaults.
func NewValidator(registry *Registry, maxSourceBytes, maxStdinBytes int) *Validator {
	if maxSourceBytes <= 0 {
		maxSourceBytes = DefaultMaxSourceBytes
	}
	if maxStdinBytes <= 0 {
		maxStdinBytes = DefaultMaxStdinBytes
	}
	return &Validator{registry: registry, maxSourceBytes: maxSourceBytes, maxStdinBytes: maxStdinBytes}
}

// Validate returns nil when req is admissible, or a *ValidationError
// (wrapping ErrUnsupportedLanguage for unknown languages).
func (v *Validator) Validate(req Request) error {
	if req.Language == "" {
		return &ValidationError{Field: "language", Reason: "required"}
	}
	if _, err := v.registry.Resolve(req.Language); err != nil {
		return err
	}
	if req.SourceCode == "" {
		return &ValidationError{Field: "code", Reason: "required"}
	}
	if len(req.SourceCode) > v.maxSourceBytes {
		return &ValidationError{Field: "code", Reason: fmt.Sprintf("exceeds %d bytes", v.maxSourceBytes)}
	}
	if len(req.Stdin) > v.maxStdinBytes {
		return &ValidationError{Field: "stdin", Reason: fmt.Sprintf("exceeds %d bytes", v.maxStdinBytes)}
	}
	if len(req.Args) > maxArgs {
		return &ValidationError{Field: "args", Reason: fmt.Sprintf("exceeds %d entries", maxArgs)}
	}
	for i, a := range req.Args {
		if len(a) > maxArgBytes {
			return &ValidationError{Field: fmt.Sprintf("args[%d]", i), Reason: fmt.Sprintf("exceeds %d bytes", maxArgBytes)}
		}
	}
	return nil
}
