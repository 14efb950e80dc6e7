// Package pagination implements keyset pages over (timestamp DESC, id DESC)
// orderings with opaque URL-safe cursors.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

var ErrInvalidCursor = errors.New("invalid cursor")

type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the (At, ID) key of the last row already returned.
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Keyset orders by timeColumn DESC, id DESC, resumes after cursor (when
// non-nil) and fetches one row past the page size so Trim can tell whether
// another page exists.
func Keyset(timeColumn string, cursor *Cursor, limit int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if cursor != nil {
			db = db.Where(
				fmt.Sprintf("(%[1]s < ? OR (%[1]s = ? AND id < ?))", timeColumn),
				cursor.At, cursor.At, cursor.ID,
			)
		}
		return db.
			Order(timeColumn + " DESC").
			Order("id DESC").
			Limit(NormalizeLimit(limit) + 1)
	}
}

// Trim cuts rows fetched through Keyset down to the page size. next, when
// non-empty, is the cursor for the following page.
func Trim[T any](rows []T, limit int, key func(T) Cursor) (page []T, next string) {
	size := NormalizeLimit(limit)
	if len(rows) <= size {
		return rows, ""
	}
	page = rows[:size]
	return page, EncodeCursor(key(page[size-1]))
}

func EncodeCursor(cursor Cursor) string {
	payload := cursor.At.UTC().Format(time.RFC3339Nano) + "|" + cursor.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// ParseCursor decodes a cursor from EncodeCursor. A blank value yields nil.
// Every decoding failure wraps ErrInvalidCursor.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	at, id, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, fmt.Errorf("%w: missing separator", ErrInvalidCursor)
	}
	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", ErrInvalidCursor, err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", ErrInvalidCursor, err)
	}
	return &Cursor{At: ts.UTC(), ID: uid}, nil
}
