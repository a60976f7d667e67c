package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for sandbox execution spans and metrics.
var (
	AttrLanguage  = attribute.Key("sandbox.language")
	AttrStatus    = attribute.Key("sandbox.status")
	AttrPhase     = attribute.Key("sandbox.phase")
	AttrExitCode  = attribute.Key("sandbox.exit_code")
	AttrTimedOut  = attribute.Key("sandbox.timed_out")
	AttrTruncated = attribute.Key("sandbox.truncated")
)
