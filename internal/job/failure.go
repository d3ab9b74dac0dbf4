package job

import (
	"errors"

	"github.com/tendant/simple-transcoder/pkg/schema"
)

// Failure ends a job. Message is what the client sees; Err is logged.
type Failure struct {
	Type    schema.FailureType
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return f.Message + ": " + f.Err.Error()
	}
	return f.Message
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(t schema.FailureType, msg string, err error) *Failure {
	return &Failure{Type: t, Message: msg, Err: err}
}

func invalid(msg string, err error) *Failure {
	return fail(schema.FailureTypeValidation, msg, err)
}

// errConsumerGone marks a job whose event consumer stopped iterating.
var errConsumerGone = fail(schema.FailureTypeCanceled, "Client disconnected", nil)

// asFailure classifies any error returned by a job step.
func asFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return fail(schema.FailureTypeIO, "Internal error", err)
}
