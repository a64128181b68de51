package relay

import (
	"errors"
	"fmt"
)

// ErrUnknownModel is returned by Registry.Resolve for names no descriptor
// claims. There is deliberately no default provider: a silent fallback
// would send a message to the wrong backend with the wrong credentials.
var ErrUnknownModel = errors.New("unknown model")

// ConfigError reports a missing credential for a selected provider.
// No network call is attempted when this is returned.
type ConfigError struct {
	Provider string
	EnvVar   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %s not configured: %s is not set", e.Provider, e.EnvVar)
}

// UpstreamRequestError reports a non-success status from the provider
// before any streaming began. The stream pump is never created for these.
type UpstreamRequestError struct {
	Provider string
	Status   int
	Body     string
}

func (e *UpstreamRequestError) Error() string {
	return fmt.Sprintf("provider %s returned status %d: %s", e.Provider, e.Status, e.Body)
}

// UpstreamStreamError reports a failure after streaming began. Whatever
// text accumulated before the failure is checkpointed, not discarded.
type UpstreamStreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamStreamError) Error() string {
	return fmt.Sprintf("provider %s stream failed: %v", e.Provider, e.Err)
}

func (e *UpstreamStreamError) Unwrap() error {
	return e.Err
}
