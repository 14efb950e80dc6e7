package enums

import "fmt"

// OutboxDLQErrorReason is stored on each outbox_dlq row.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: transient broker errors outlasted the retry budget.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable: the broker rejected the message outright.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) String() string {
	return string(r)
}

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable:
		return true
	}
	return false
}

// DLQReasonFor classifies a terminal publish failure.
func DLQReasonFor(permanent bool) OutboxDLQErrorReason {
	if permanent {
		return OutboxDLQReasonNonRetryable
	}
	return OutboxDLQReasonMaxAttempts
}

// ParseOutboxDLQErrorReason converts raw input into OutboxDLQErrorReason.
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	if r := OutboxDLQErrorReason(value); r.IsValid() {
		return r, nil
	}
	return "", fmt.Errorf("invalid dlq error reason %q", value)
}
