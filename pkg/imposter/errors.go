package imposter

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
)

// ResourceConflictError reports that the requested port was not
// available. User-correctable: pick another port or free the
// conflicting process.
type ResourceConflictError struct {
	Port int
}

func (e *ResourceConflictError) Error() string {
	return fmt.Sprintf("port %d is already in use", e.Port)
}

// InsufficientAccessError reports a privilege failure binding a
// restricted port. User-correctable: run with elevated privileges or
// choose an unprivileged port.
type InsufficientAccessError struct {
	Port int
}

func (e *InsufficientAccessError) Error() string {
	return fmt.Sprintf("insufficient access to bind port %d", e.Port)
}

// classifyBindError maps a transport bind or serve failure onto the
// typed taxonomy: address-in-use conflicts and permission failures get
// dedicated types naming the port; everything else passes through
// uninterpreted for the caller to log or report.
func classifyBindError(err error, port int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return &ResourceConflictError{Port: port}
	}
	if errors.Is(err, syscall.EACCES) || errors.Is(err, os.ErrPermission) {
		return &InsufficientAccessError{Port: port}
	}

	// Fallback for platforms and wrappers that lose the errno.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "address already in use") || strings.Contains(msg, "eaddrinuse") {
		return &ResourceConflictError{Port: port}
	}
	if strings.Contains(msg, "permission denied") {
		return &InsufficientAccessError{Port: port}
	}
	return err
}
