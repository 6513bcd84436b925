package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livepoll/backend/pkg/apperr"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validation("bad"), http.StatusBadRequest},
		{apperr.New(apperr.KindConflict, "c", "c"), http.StatusConflict},
		{apperr.New(apperr.KindForbidden, "f", "f"), http.StatusForbidden},
		{apperr.New(apperr.KindNotFound, "n", "n"), http.StatusNotFound},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestErrorHidesInternalMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, errors.New("connection refused to 10.0.0.3"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "internal server error", body.Error)
	assert.Equal(t, "internal", body.Code)
}

func TestErrorCarriesCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, apperr.New(apperr.KindConflict, "poll_active", "a poll is already active"))

	require.Equal(t, http.StatusConflict, w.Code)
	var body Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "poll_active", body.Code)
	assert.Equal(t, "a poll is already active", body.Error)
}
