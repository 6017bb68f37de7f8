package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bikeprice/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRootCommandHasServe(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", cmd.Name())
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestServerConfigMapping(t *testing.T) {
	c := config.Default().Server
	got := serverConfig(c)
	assert.Equal(t, c.Port, got.Port)
	assert.Equal(t, c.CORSOrigins, got.AllowedOrigins)
	assert.Equal(t, c.RateLimitWindow, got.RateLimitWindow)
	assert.Equal(t, c.Currency, got.Currency)
}

func TestServeWithoutModel(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.Port = freePort(t)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Model.Path = filepath.Join(dir, "models", "model.json")
	cfg.Database.Path = filepath.Join(dir, "predictions.db")
	cfg.Logging.Level = "error"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
	assert.Contains(t, body, `"model_loaded":false`)
	assert.Contains(t, body, "model file not found")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
