package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_FileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "kiosk.yaml", `
machine_id: booth-07
service_price: "50000"
payment:
  server_key: SB-Mid-server-abc
capture:
  settle_delay: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "booth-07", cfg.MachineID)
	assert.True(t, cfg.Price().Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "dslrBooth", cfg.Capture.ProcessName)
	assert.Equal(t, 2*time.Second, cfg.Capture.SettleDelay)
	assert.Equal(t, "https://api.sandbox.midtrans.com/v2/", cfg.GatewayBaseURL())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "kiosk.yaml", "machine_id: booth-01\n")
	t.Setenv("BOOTHFLOW_MACHINE_ID", "booth-99")
	t.Setenv("BOOTHFLOW_PAYMENT_PRODUCTION", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "booth-99", cfg.MachineID)
	assert.Equal(t, "https://api.midtrans.com/v2/", cfg.GatewayBaseURL())
}

func TestLoad_MissingMachineIDIsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "kiosk.yaml", "service_price: \"10\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MachineID")
}

func TestLoad_RejectsNegativePrice(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "kiosk.yaml", "machine_id: m\nservice_price: \"-5\"\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestCheckCapture(t *testing.T) {
	cfg := &Config{}
	assert.True(t, errors.Is(cfg.CheckCapture(), ErrCapturePathNotSet))

	cfg.Capture.Path = filepath.Join(t.TempDir(), "dslrBooth.exe")
	assert.True(t, errors.Is(cfg.CheckCapture(), ErrCaptureMissing))

	writeFile(t, filepath.Dir(cfg.Capture.Path), "dslrBooth.exe", "MZ")
	assert.NoError(t, cfg.CheckCapture())
}
