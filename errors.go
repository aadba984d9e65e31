package forge

import "github.com/pkg/errors"

// Domain classifies an Error per the error taxonomy in the core spec.
type Domain string

const (
	DomainLoad     Domain = "load"
	DomainSource   Domain = "source"
	DomainElement  Domain = "element"
	DomainArtifact Domain = "artifact"
	DomainSandbox  Domain = "sandbox"
	DomainStream   Domain = "stream"
	DomainPlugin   Domain = "plugin"
)

// Error is the typed error envelope surfaced across the pipeline: load
// errors, source errors, and everything else that needs a stable
// {domain, reason} pair for classification (e.g. by a job's error
// envelope, or a retry policy).
type Error struct {
	Domain  Domain
	Reason  string
	Message string
	Detail  string

	cause error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Domain) + ": " + e.Reason
}

// Unwrap exposes the wrapped cause so errors.Is/As can see past this
// envelope to whatever underlying error (if any) triggered it.
func (e *Error) Unwrap() error { return e.cause }

// NewError builds a classified *Error carrying cause (if any) as its
// Detail and its Unwrap target, then adds a stack trace via
// github.com/pkg/errors.WithStack the same way the rest of this
// codebase's error-wrapping does. *Error stays reachable via
// errors.As because pkg/errors' stack-trace wrapper implements Unwrap
// too.
func NewError(domain Domain, reason, message string, cause error) error {
	e := &Error{Domain: domain, Reason: reason, Message: message, cause: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return errors.WithStack(e)
}
