package httputil

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"success"}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"validation", apperr.Validation("members.invite", "accessor has no email"), http.StatusBadRequest, "members.invite: accessor has no email"},
		{"authority", apperr.Authority("rbac.update_role", "role was not updated"), http.StatusForbidden, "rbac.update_role: role was not updated"},
		{"not found", apperr.NotFound("members.get", "member not found"), http.StatusNotFound, "members.get: member not found"},
		{"conflict", apperr.Conflict("accessors.create", "email already used"), http.StatusConflict, "accessors.create: email already used"},
		{"transport", apperr.Transport("notify.send", "notification service unreachable", driver.ErrBadConn), http.StatusBadGateway, "notification service unreachable"},
		{"internal", errors.New("pq: relation does not exist"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			ctx := observability.WithLogger(context.Background(), observability.NewLogger(observability.DebugLevel, &logs))
			r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
			w := httptest.NewRecorder()

			WriteError(w, r, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Contains(t, body.Error, tt.wantBody)
			assert.NotContains(t, body.Error, "pq:")
		})
	}
}

func TestWriteHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]int{"id": 1}))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	require.NoError(t, WriteSuccess(w, []string{}))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, w.Body.Len())

	w = httptest.NewRecorder()
	WriteUnauthorized(w, "missing token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"missing token"}`, w.Body.String())

	w = httptest.NewRecorder()
	WriteForbidden(w, "project owner required")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
