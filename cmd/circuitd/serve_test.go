package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/circuit-go/application"
	"github.com/lk2023060901/circuit-go/internal/activity"
	"github.com/lk2023060901/circuit-go/internal/network/connector"
)

func newTestApp(t *testing.T) *application.Application {
	t.Helper()
	t.Setenv("CIRCUIT_LOG_ENABLE", "false")
	t.Setenv(application.EnvConfigFilePath, "")
	t.Chdir(t.TempDir())

	app := application.New()
	require.NoError(t, app.Run(""))
	return app
}

func TestServerEndToEnd(t *testing.T) {
	app := newTestApp(t)
	srv, err := newServer(app, app.Settings())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.http.Handler)
	defer ts.Close()
	defer func() { _ = srv.shutdown() }()

	target := newRenderTarget(2)
	target.tracker = activity.NewTracker(time.Minute, target.reportActivity)
	defer target.tracker.Stop()

	c, err := connector.New(connector.Config{URL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"}, target)
	require.NoError(t, err)
	conn, err := c.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		infos := srv.reg.Sessions()
		return len(infos) == 1 && len(infos[0].Components) == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, srv.drv.InvokeNow(context.Background()))
	require.Eventually(t, func() bool { return target.renders.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "circuit_registry_open_sessions 1")

	resp, err = http.Post(ts.URL+"/admin/invoke?session="+conn.ID(), "", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return target.renders.Load() == 4 }, 2*time.Second, 5*time.Millisecond)
}

func TestRootCommandRejectsMissingConfig(t *testing.T) {
	t.Setenv("CIRCUIT_LOG_ENABLE", "false")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "serve"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	assert.Error(t, cmd.Execute())
}
