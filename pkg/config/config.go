// Package config holds the creation-request model for imposters, the
// host-level options, and file loading for both.
package config

import (
	"fmt"

	"github.com/imposterd/imposterd/pkg/stub"
)

// TCP payload encodings.
const (
	ModeText   = "text"
	ModeBinary = "binary"
)

// CreationRequest describes a virtual server to stand up. It is
// normalized once at load time: legacy field shapes (singular stub
// response, structured proxy targets) are rewritten to the current
// shape before any component sees them.
type CreationRequest struct {
	// Protocol selects the transport, e.g. "tcp" or "http". Required.
	Protocol string `json:"protocol" yaml:"protocol"`

	// Port to bind. Zero asks the OS to assign one.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// Name is an optional display name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Host is the bind address. Empty binds all interfaces.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// RecordRequests enables per-imposter request recording.
	RecordRequests bool `json:"recordRequests,omitempty" yaml:"recordRequests,omitempty"`

	// Stubs are registered in order before the imposter is returned;
	// earlier stubs have higher match priority.
	Stubs []stub.Stub `json:"stubs,omitempty" yaml:"stubs,omitempty"`

	// DefaultResponse overrides the protocol's default response,
	// served when no stub matches.
	DefaultResponse map[string]any `json:"defaultResponse,omitempty" yaml:"defaultResponse,omitempty"`

	// Mode is the TCP payload encoding: "text" (default) or "binary".
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// Validate checks the request for field-level problems. It does not
// verify the protocol is actually registered.
func (r *CreationRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("creation request cannot be nil")
	}
	if r.Protocol == "" {
		return fmt.Errorf("protocol is required")
	}
	if r.Port < 0 || r.Port > 65535 {
		return fmt.Errorf("invalid port %d", r.Port)
	}
	if r.Mode != "" && r.Mode != ModeText && r.Mode != ModeBinary {
		return fmt.Errorf("invalid mode %q: must be %q or %q", r.Mode, ModeText, ModeBinary)
	}
	return nil
}

// Options are host-process settings applied to every imposter. They are
// read at creation/request time, never re-read mid-request.
type Options struct {
	// RecordRequests forces request recording on every imposter,
	// regardless of the per-imposter flag.
	RecordRequests bool

	// RecordMatches enables match recording on every stub (debug
	// mode).
	RecordMatches bool
}
