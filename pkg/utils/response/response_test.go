package response

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/inventory-rag/pkg/utils/errors"
	"github.com/kart-io/inventory-rag/pkg/utils/json"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(h gin.HandlerFunc) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		c.Set(RequestIDKey, "req-1")
		h(c)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestOK(t *testing.T) {
	w := serve(func(c *gin.Context) { OK(c, map[string]string{"status": "ready"}) })
	require.Equal(t, http.StatusOK, w.Code)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Code)
	assert.Equal(t, "req-1", body.RequestID)
	assert.Equal(t, map[string]any{"status": "ready"}, body.Data)
}

func TestFailMapsErrno(t *testing.T) {
	w := serve(func(c *gin.Context) { Fail(c, fmt.Errorf("initialize: %w", errors.ErrNoInventory)) })
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, errors.ErrNoInventory.Code, body.Code)
	assert.Nil(t, body.Data)
}

func TestFailPlainErrorIsInternal(t *testing.T) {
	w := serve(func(c *gin.Context) { Fail(c, stderrors.New("boom")) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHTTPStatusFallsBackToCategory(t *testing.T) {
	r := &Response{Code: errors.MakeCode(99, errors.CategoryNetwork, 9)}
	assert.Equal(t, http.StatusServiceUnavailable, r.HTTPStatus())
	assert.Equal(t, http.StatusOK, Success(nil).HTTPStatus())
}
