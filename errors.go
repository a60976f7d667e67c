package sandbox

import (
	"errors"
	"fmt"
)

// ErrUnsupportedLanguage is returned by Registry.Resolve for an unknown
// language identifier.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ValidationError rejects a request before any container is touched:
// unknown language, oversized payload, empty source.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// ProvisioningError reports that a sandbox could not be provisioned: daemon
// unreachable, image missing, or the backoff gate is closed. Callers should
// not retry immediately — the health monitor's backoff governs retry timing.
type ProvisioningError struct {
	Reason string
	Err    error
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("provisioning failed: %s", e.Reason)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a request-admission failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrUnsupportedLanguage)
}

// IsProvisioning reports whether err is an infrastructure provisioning
// failure as opposed to a failure of the submitted code.
func IsProvisioning(err error) bool {
	var pe *ProvisioningError
	return errors.As(err, &pe)
}
