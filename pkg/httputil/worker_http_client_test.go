package httputil

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelClientConfig(t *testing.T) {
	cfg := ModelClientConfig(4, 45*time.Second)
	assert.Equal(t, 8, cfg.MaxConnsPerHost)
	assert.Equal(t, 4, cfg.MaxIdleConnsPerHost)
	assert.Equal(t, 45*time.Second, cfg.ResponseTimeout)

	cfg = ModelClientConfig(0, 0)
	assert.Equal(t, 2, cfg.MaxConnsPerHost)
	assert.Equal(t, DefaultClientConfig().ResponseTimeout, cfg.ResponseTimeout)
}

func TestNewOptimizedClient(t *testing.T) {
	client := NewOptimizedClient(ModelClientConfig(2, time.Minute))
	assert.Equal(t, time.Minute, client.Timeout)

	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 4, tr.MaxConnsPerHost)
	assert.Equal(t, time.Minute, tr.ResponseHeaderTimeout)

	assert.NotNil(t, NewOptimizedClient(nil).Transport)
}
