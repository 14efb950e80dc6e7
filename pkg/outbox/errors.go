package outbox

import (
	"errors"
	"strings"
	"unicode/utf8"

	pkgerrors "github.com/heuristiclogix/eventrelay/pkg/errors"
)

var (
	ErrTransactionRequired = errors.New("outbox: transaction required")
	ErrTopicRequired       = errors.New("outbox: topic is required")
	ErrInvalidEventType    = errors.New("outbox: unknown event type")
	ErrInvalidVersion      = errors.New("outbox: schema version must be positive")
	ErrPayloadRequired     = errors.New("outbox: payload data is required")
	ErrPayloadEncoding     = errors.New("outbox: payload is not serializable")
	ErrPayloadTooLarge     = errors.New("outbox: payload exceeds size ceiling")
	ErrInvalidEnvelope     = errors.New("outbox: invalid envelope")
)

func validationError(cause error, details map[string]any) error {
	err := pkgerrors.Wrap(pkgerrors.CodeValidation, cause, cause.Error())
	if len(details) > 0 {
		err = err.WithDetails(details)
	}
	return err
}

func storageError(cause error, message string) error {
	return pkgerrors.Wrap(pkgerrors.CodeStorage, cause, message)
}

// TruncateUTF8 caps s at limit bytes, backing off to a rune boundary. Invalid
// byte sequences are replaced first so the result is always valid UTF-8.
func TruncateUTF8(s string, limit int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
