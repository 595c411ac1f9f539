package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	w := httptest.NewRecorder()

	Write(w, http.StatusServiceUnavailable, CodeCircuitOpen, "doctors unavailable")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	var body ErrorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, CodeCircuitOpen, body.Error)
	assert.Equal(t, "doctors unavailable", body.Message)
}

func TestAbort(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Abort(c, http.StatusNotFound, CodeNotFound, "no route")

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusNotFound, w.Code)
	var body ErrorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, CodeNotFound, body.Error)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "1", RetryAfter(0))
	assert.Equal(t, "1", RetryAfter(200*time.Millisecond))
	assert.Equal(t, "2", RetryAfter(1100*time.Millisecond))
	assert.Equal(t, "30", RetryAfter(30*time.Second))
}
