// Package errors provides standardized error handling for the service-graph runtime.
//
// # Overview
//
// Errors are classified into three classes: Transient (temporary, retryable),
// Invalid (bad configuration or misuse of the lifecycle API, non-retryable) and
// Fatal (a configuration that cannot be brought up, such as an unknown service
// implementation).
//
// The runtime maps its failure taxonomy onto these classes:
//
//   - ErrConfig: malformed or duplicate declaration, raised from SetConfig/Create (Invalid)
//   - ErrUnknownImplementation: the factory cannot produce a type (Fatal)
//   - ErrTeardown: a service failed during stop or destroy; logged, teardown continues
//   - ErrInvalidState: lifecycle call out of order (Invalid)
//
// A service waiting forever for a mandatory object is not an error at all: it
// simply stays deferred.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")
//	errors.WrapInvalid(err, "Component", "Method", "action")
//	errors.WrapFatal(err, "Component", "Method", "action")
//
// The generic Wrap() function preserves the original error's classification.
// Classification survives errors.Is/errors.As through any wrapping chain.
package errors
