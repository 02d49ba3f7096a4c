package utils

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	pkgError "github.com/AzielCF/az-restyle/pkg/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorResponse(t *testing.T) {
	res := ErrorResponse(pkgError.ValidationError("file is required"))
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "ValidationError", res.Code)
	assert.Equal(t, "file is required", res.Error)

	res = ErrorResponse(pkgError.NewUpstreamError("object store write failed", errors.New("disk full")))
	assert.Equal(t, "UpstreamError", res.Code)
	assert.NotContains(t, res.Error, "disk")

	res = ErrorResponse(errors.New("pq: relation does not exist"))
	assert.Equal(t, "InternalError", res.Code)
	assert.Equal(t, "internal server error", res.Error)

	res = ErrorResponse(pkgError.QuotaExceededError{Class: "search", Limit: 10, RetryAfter: 90 * time.Second})
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
	assert.Equal(t, "QuotaExceededError", res.Code)
	assert.Equal(t, int64(90000), res.RetryAfterMs)
}

func TestGetInstanceID(t *testing.T) {
	assert.Equal(t, "fixed", GetInstanceID("fixed", t.TempDir()))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".instance_id"), []byte(" saved-id \n"), 0644))
	assert.Equal(t, "saved-id", GetInstanceID("", dir))
}

func TestCreateFolder(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "a", "b")
	require.NoError(t, CreateFolder(target, ""))
	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
