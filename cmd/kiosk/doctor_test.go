package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/boothflow/internal/config"
)

func backofficeStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		if strings.Contains(buf.String(), `"login"`) {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":3}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":2,"result":{"name":"Booth A","price":50000,"server_key":"k","product_image":false,"background_image":false}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	exe := filepath.Join(t.TempDir(), "dslrBooth.exe")
	require.NoError(t, os.WriteFile(exe, []byte("x"), 0o755))

	cfg := &config.Config{MachineID: "M-1", ServicePrice: "50000"}
	cfg.Payment.ServerKey = "SB-key"
	cfg.Capture.Path = exe
	cfg.Capture.ProcessName = "boothflow-test-no-such-process"
	cfg.Backoffice.URL = backofficeStub(t).URL
	return cfg
}

func TestDoctorHealthy(t *testing.T) {
	var out bytes.Buffer
	ok := runDoctor(context.Background(), testConfig(t), &out)
	assert.True(t, ok, out.String())
	assert.Contains(t, out.String(), `machine "Booth A"`)
	assert.Contains(t, out.String(), "not running")
	assert.NotContains(t, out.String(), "FAIL")
}

func TestDoctorReportsCaptureAndKeyProblems(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Path = ""
	cfg.Payment.ServerKey = ""

	var out bytes.Buffer
	ok := runDoctor(context.Background(), cfg, &out)
	assert.False(t, ok)
	assert.Contains(t, out.String(), "capture application path is not set")
	assert.Contains(t, out.String(), "[FAIL] payment server key")
}
