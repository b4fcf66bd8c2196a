package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_FailsOnMissingConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestStartMetrics(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	srv := startMetrics(addr)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + addr + "/metrics")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestEnvString(t *testing.T) {
	t.Setenv("WORKER_METRICS_ADDR", "")
	assert.Equal(t, ":9091", envString("WORKER_METRICS_ADDR", ":9091"))
	t.Setenv("WORKER_METRICS_ADDR", ":9999")
	assert.Equal(t, ":9999", envString("WORKER_METRICS_ADDR", ":9091"))
}
