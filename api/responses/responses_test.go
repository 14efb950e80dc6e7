package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/heuristiclogix/eventrelay/pkg/errors"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var body ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"reference": "ORD-1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"reference":"ORD-1"}}`, w.Body.String())
}

func TestWriteSuccessUnencodablePayload(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]any{"ch": make(chan int)})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWriteErrorByCode(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.4:5432: connection refused")
	cases := []struct {
		name        string
		err         error
		status      int
		code        pkgerrors.Code
		message     string
		withDetails bool
		retryAfter  bool
	}{
		{
			name:        "validation exposes message and details",
			err:         pkgerrors.New(pkgerrors.CodeValidation, "reference is required").WithDetails(map[string]string{"field": "reference"}),
			status:      http.StatusBadRequest,
			code:        pkgerrors.CodeValidation,
			message:     "reference is required",
			withDetails: true,
		},
		{
			name:    "state conflict",
			err:     pkgerrors.New(pkgerrors.CodeStateConflict, "order already decided"),
			status:  http.StatusUnprocessableEntity,
			code:    pkgerrors.CodeStateConflict,
			message: "order already decided",
		},
		{
			name:       "storage hides cause",
			err:        pkgerrors.Wrap(pkgerrors.CodeStorage, cause, "insert order"),
			status:     http.StatusServiceUnavailable,
			code:       pkgerrors.CodeStorage,
			message:    pkgerrors.CodeStorage.Metadata().PublicMessage,
			retryAfter: true,
		},
		{
			name:    "untyped becomes internal",
			err:     cause,
			status:  http.StatusInternalServerError,
			code:    pkgerrors.CodeInternal,
			message: pkgerrors.CodeInternal.Metadata().PublicMessage,
		},
		{
			name:    "nil error",
			err:     nil,
			status:  http.StatusInternalServerError,
			code:    pkgerrors.CodeInternal,
			message: pkgerrors.CodeInternal.Metadata().PublicMessage,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(context.Background(), nil, w, tc.err)

			assert.Equal(t, tc.status, w.Code)
			got := decodeError(t, w)
			assert.Equal(t, string(tc.code), got.Code)
			assert.Equal(t, tc.message, got.Message)
			assert.NotContains(t, got.Message, "connection refused")
			assert.Equal(t, tc.withDetails, got.Details != nil)
			if tc.retryAfter {
				assert.Equal(t, retryAfterSeconds, w.Header().Get("Retry-After"))
			} else {
				assert.Empty(t, w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestWriteErrorCopiesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(requestIDHeader, "req-42")
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "req-42", decodeError(t, w).RequestID)
}
