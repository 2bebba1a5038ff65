package contracts

import "errors"

var (
	// ErrAuthentication indicates a missing or mismatched shared secret.
	ErrAuthentication = &categoryError{
		category:  "authentication_failure",
		message:   "authentication failed",
		permanent: true,
	}

	// ErrValidation indicates a malformed body or an out-of-bounds field.
	ErrValidation = &categoryError{
		category:  "validation_failure",
		message:   "validation failed",
		permanent: true,
	}

	// ErrStaging indicates the staging store could not be written or read.
	ErrStaging = &categoryError{
		category: "staging_failure",
		message:  "staging store unavailable",
	}

	// ErrEnqueue indicates a deferred work item could not be enqueued.
	ErrEnqueue = &categoryError{
		category: "enqueue_failure",
		message:  "enqueue failed",
	}

	// ErrSerialization indicates the batch could not be encoded for the broker.
	ErrSerialization = &categoryError{
		category:  "serialization_error",
		message:   "serialization failed",
		permanent: true,
		publish:   true,
	}

	// ErrBrokerUnreachable indicates no broker could be reached.
	ErrBrokerUnreachable = &categoryError{
		category: "broker_unreachable",
		message:  "broker unreachable",
		publish:  true,
	}

	// ErrTimeout indicates the acknowledgment did not arrive within the flush timeout.
	ErrTimeout = &categoryError{
		category: "timeout",
		message:  "acknowledgment timeout",
		publish:  true,
	}

	// ErrBroker indicates the broker answered with an error code.
	ErrBroker = &categoryError{
		category: "broker_error",
		message:  "broker error",
		publish:  true,
	}

	// ErrPayloadMissing indicates the staged payload is gone (consumed or expired).
	// It cannot be recovered, so work referencing it must not be retried.
	ErrPayloadMissing = &categoryError{
		category:  "payload_missing",
		message:   "staged payload missing",
		permanent: true,
	}
)

// categoryError tags an error with a stable category label used in log
// events and dead letters. Sentinels are compared by pointer identity.
type categoryError struct {
	category  string
	message   string
	permanent bool
	publish   bool
}

func (e *categoryError) Error() string {
	return e.message
}

// Category returns the machine-readable label, e.g. "broker_error".
func (e *categoryError) Category() string {
	return e.category
}

// ErrorType walks the chain of err and returns the category of the first
// categorised error, "unknown" for uncategorised errors and "" for nil.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}

	var ce *categoryError
	if errors.As(err, &ce) {
		return ce.Category()
	}

	return "unknown"
}

// IsPublishFailure reports whether err is one of the publish failure categories.
func IsPublishFailure(err error) bool {
	var ce *categoryError
	return errors.As(err, &ce) && ce.publish
}

// IsPermanent reports whether retrying the operation that produced err is pointless.
func IsPermanent(err error) bool {
	var ce *categoryError
	return errors.As(err, &ce) && ce.permanent
}
