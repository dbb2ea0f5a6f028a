package webpack

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrImproperlyConfigured is matched by every *ConfigurationError
	ErrImproperlyConfigured = errors.New("webpack: improperly configured")

	// ErrConfigNotFound is matched by every *ConfigNotFoundError
	ErrConfigNotFound = errors.New("webpack: config file not found")
)

// ConfigurationError reports a missing or invalid setting. It is raised
// before any filesystem or network access.
type ConfigurationError struct {
	Setting string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("webpack settings %s has not been defined. %s", e.Setting, e.Message)
}

// Is allows errors.Is(err, ErrImproperlyConfigured).
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrImproperlyConfigured
}

// ConfigNotFoundError reports a config reference that does not resolve to
// an existing file.
type ConfigNotFoundError struct {
	Ref string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("webpack config file not found: %s", e.Ref)
}

// Is allows errors.Is(err, ErrConfigNotFound).
func (e *ConfigNotFoundError) Is(target error) bool {
	return target == ErrConfigNotFound
}

// ErrorKind distinguishes the two ways a bundling call can fail.
type ErrorKind string

const (
	// KindTransport means the compiler service could not be reached or
	// answered with something that is not a stats document.
	KindTransport ErrorKind = "transport"

	// KindCompiler means the compiler ran and reported compile errors.
	KindCompiler ErrorKind = "compiler"
)

// BundlingError is returned when a bundle could not be produced.
type BundlingError struct {
	Kind       ErrorKind
	ConfigPath string
	// Errors holds the compiler-reported messages for KindCompiler.
	Errors []string
	// Cause is the underlying transport or decoding error for KindTransport.
	Cause error
}

func (e *BundlingError) Error() string {
	if e.Kind == KindCompiler {
		return strings.Join(append([]string{e.ConfigPath}, e.Errors...), "\n\n")
	}
	if e.Cause != nil {
		return fmt.Sprintf("bundling %s failed: %v", e.ConfigPath, e.Cause)
	}
	return fmt.Sprintf("bundling %s failed", e.ConfigPath)
}

func (e *BundlingError) Unwrap() error {
	return e.Cause
}

// IsTransportError reports whether err is a bundling error caused by the
// service transport rather than by the compiler.
func IsTransportError(err error) bool {
	var be *BundlingError
	return errors.As(err, &be) && be.Kind == KindTransport
}

// IsCompilerError reports whether err carries compiler-reported errors.
func IsCompilerError(err error) bool {
	var be *BundlingError
	return errors.As(err, &be) && be.Kind == KindCompiler
}

// CompilerWarning is the non-fatal signal raised when the compiler reports
// warnings. The bundling call still succeeds.
type CompilerWarning struct {
	ConfigPath string
	Warnings   []string
}

func (w *CompilerWarning) Error() string {
	return fmt.Sprintf("%s: %d compiler warning(s):\n%s", w.ConfigPath, len(w.Warnings), strings.Join(w.Warnings, "\n"))
}
