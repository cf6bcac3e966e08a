package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells callers how to react to an error.
type ErrorClass int

const (
	// ErrorTransient may succeed when retried.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid comes from bad configuration or lifecycle misuse.
	ErrorInvalid
	// ErrorFatal aborts the configuration.
	ErrorFatal
)

var classNames = [...]string{"transient", "invalid", "fatal"}

func (ec ErrorClass) String() string {
	if ec < 0 || int(ec) >= len(classNames) {
		return "unknown"
	}
	return classNames[ec]
}

var (
	ErrConfig         = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("configuration not found")
	ErrMissingObject  = errors.New("required object not found")

	ErrUnknownImplementation = errors.New("unknown implementation")

	ErrInvalidState   = errors.New("invalid lifecycle state")
	ErrAlreadyStarted = errors.New("service already started")
	ErrNotStarted     = errors.New("service not started")
	ErrTeardown       = errors.New("teardown failure")

	ErrUnknownEndpoint = errors.New("unknown signal or slot")
	ErrNotConnected    = errors.New("not connected")

	ErrConnectionTimeout = errors.New("connection timeout")
	ErrConnectionLost    = errors.New("connection lost")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

// sentinels classifies bare errors that never went through a Wrap* helper.
// The first match wins.
var sentinels = []struct {
	err   error
	class ErrorClass
}{
	{ErrUnknownImplementation, ErrorFatal},
	{ErrMissingObject, ErrorFatal},
	{ErrConfig, ErrorInvalid},
	{ErrConfigNotFound, ErrorInvalid},
	{ErrInvalidState, ErrorInvalid},
	{ErrUnknownEndpoint, ErrorInvalid},
	{ErrConnectionTimeout, ErrorTransient},
	{ErrConnectionLost, ErrorTransient},
	{ErrCircuitOpen, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
	{context.Canceled, ErrorTransient},
}

// transientHints mark foreign errors (network, NATS) as transient by message.
var transientHints = []string{"timeout", "connection", "temporary", "unavailable"}

// ClassifiedError carries a class and the place it was raised.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf looks for an explicit classification, then for a known sentinel.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.class, true
		}
	}
	return 0, false
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err must abort the configuration.
func IsFatal(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorFatal
}

// IsInvalid reports whether err comes from bad input or lifecycle misuse.
func IsInvalid(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorInvalid
}

// Classify returns the class of err; unknown errors count as transient.
func Classify(err error) ErrorClass {
	if class, ok := classOf(err); ok {
		return class
	}
	return ErrorTransient
}

// Wrap adds context in the form "component.method: action failed: err".
// Any classification already in err is kept.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// Configf builds an invalid-configuration error carrying a formatted detail.
// The result matches ErrConfig with errors.Is.
func Configf(component, method, format string, args ...any) error {
	detail := fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
	return WrapInvalid(detail, component, method, "configuration validation")
}
