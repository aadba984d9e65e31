package forge

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
)

func TestNewErrorClassificationSurvivesWithCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := NewError(DomainSource, "fetch", "fetch failed", cause)

	var classified *Error
	assert.Assert(t, errors.As(err, &classified), "expected *Error to be reachable via errors.As")
	assert.Equal(t, classified.Domain, DomainSource)
	assert.Equal(t, classified.Reason, "fetch")
	assert.Equal(t, classified.Detail, "boom")
	assert.Assert(t, errors.Is(err, cause), "expected the original cause to remain reachable via errors.Is")
}

func TestNewErrorClassificationWithoutCause(t *testing.T) {
	t.Parallel()

	err := NewError(DomainLoad, "bad-element-name", `invalid element name "../x"`, nil)

	var classified *Error
	assert.Assert(t, errors.As(err, &classified))
	assert.Equal(t, classified.Domain, DomainLoad)
	assert.Equal(t, classified.Reason, "bad-element-name")
	assert.Equal(t, classified.Detail, "")
}
