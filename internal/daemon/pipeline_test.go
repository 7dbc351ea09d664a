package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/forgelog/internal/device"
	"github.com/Chichichkin/forgelog/internal/engine"
)

func TestTailService_LabelsReachCollector(t *testing.T) {
	var (
		mu      sync.Mutex
		records []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sdk/register_device":
			_, _ = w.Write([]byte(`{"token":"t"}`))
		case "/sdk/api/logs":
			var batch []map[string]any
			if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			mu.Lock()
			records = append(records, batch...)
			mu.Unlock()
		}
	}))
	defer server.Close()

	cfg := engine.DefaultConfig()
	cfg.Endpoint = server.URL
	cfg.ClientKey = "sdk-key"
	e, err := engine.New(cfg,
		engine.WithRegisterer(prometheus.NewRegistry()),
		engine.WithDevice(device.Context{Model: "test", OSName: "linux"}),
	)
	require.NoError(t, err)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "checkout"), 0755))
	file := filepath.Join(root, "checkout", "app.log")
	require.NoError(t, os.WriteFile(file, []byte("ERROR card declined\n"), 0644))

	config := makeTestConfig(root)
	config.FromStart = true
	s := NewTailService(context.Background(), config, e)
	s.Start()

	assert.Eventually(t, func() bool { return s.Metrics().LinesRead == 1 }, 3*time.Second, 20*time.Millisecond)
	s.Stop()

	select {
	case <-e.Shutdown():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "error", rec["level"])
	assert.Equal(t, file, rec["source"])

	ctx := rec["context"].(map[string]any)
	assert.Equal(t, "app.log", ctx["log_file"])
	assert.Equal(t, "checkout", ctx["log_dir"])
	assert.Equal(t, "node-1", ctx["node"])
	assert.True(t, strings.HasSuffix(ctx["file"].(string), "daemon.go"))
}
