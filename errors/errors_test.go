package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
		fatal     bool
	}{
		{"nil", nil, false, false, false},
		{"config", ErrConfig, false, true, false},
		{"unknown implementation", ErrUnknownImplementation, false, false, true},
		{"invalid state", ErrInvalidState, false, true, false},
		{"connection timeout", ErrConnectionTimeout, true, false, false},
		{"context canceled", context.Canceled, true, false, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true, false, false},
		{"wrapped fatal", WrapFatal(errors.New("boom"), "Manager", "Create", "factory"), false, false, true},
		{"wrapped invalid", WrapInvalid(errors.New("bad"), "Builder", "Build", "parse"), false, true, false},
		{"explicit class beats sentinel", WrapTransient(ErrConfig, "Registry", "Watch", "reload"), true, false, false},
		{"plain error", errors.New("something odd"), false, false, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.transient, IsTransient(test.err), "transient")
			assert.Equal(t, test.invalid, IsInvalid(test.err), "invalid")
			assert.Equal(t, test.fatal, IsFatal(test.err), "fatal")
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrUnknownImplementation))
	assert.Equal(t, ErrorInvalid, Classify(ErrConfig))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionLost))
	assert.Equal(t, ErrorTransient, Classify(errors.New("something odd")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "A", "B", "c"))
	assert.Nil(t, WrapFatal(nil, "A", "B", "c"))

	err := Wrap(ErrConfig, "Builder", "Build", "uid check")
	assert.Equal(t, "Builder.Build: uid check failed: invalid configuration", err.Error())
	assert.True(t, errors.Is(err, ErrConfig))

	fatal := WrapFatal(ErrUnknownImplementation, "Manager", "createService", "factory lookup")
	var ce *ClassifiedError
	assert.True(t, errors.As(fatal, &ce))
	assert.Equal(t, "Manager", ce.Component)
	assert.Equal(t, "createService", ce.Operation)
	assert.True(t, errors.Is(fatal, ErrUnknownImplementation))

	// Classification is preserved through a further generic Wrap
	assert.True(t, IsFatal(Wrap(fatal, "Manager", "Create", "services")))
}

func TestConfigf(t *testing.T) {
	err := Configf("Builder", "Build", "duplicate uid %q", "img")
	assert.True(t, errors.Is(err, ErrConfig))
	assert.True(t, IsInvalid(err))
	assert.Contains(t, err.Error(), `duplicate uid "img"`)
}
