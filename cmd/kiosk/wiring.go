package main

import (
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/boothflow/internal/backoffice"
	"github.com/imrishuroy/boothflow/internal/capture"
	"github.com/imrishuroy/boothflow/internal/config"
	"github.com/imrishuroy/boothflow/internal/payment"
)

func newBackoffice(cfg *config.Config, log *logrus.Entry) *backoffice.Client {
	return backoffice.NewClient(backoffice.Config{
		URL:      cfg.Backoffice.URL,
		Database: cfg.Backoffice.Database,
		Username: cfg.Backoffice.Username,
		Password: cfg.Backoffice.Password,
	}, log)
}

func newGateway(cfg *config.Config, log *logrus.Entry) *payment.Gateway {
	return payment.NewGateway(payment.GatewayConfig{
		BaseURL:         cfg.GatewayBaseURL(),
		ServerKey:       cfg.Payment.ServerKey,
		NotificationURL: cfg.Payment.NotificationURL,
	}, log)
}

func newCapture(cfg *config.Config, kiosk capture.KioskWindow, log *logrus.Entry) *capture.Adapter {
	return capture.New(capture.Options{
		Path:        cfg.Capture.Path,
		ProcessName: cfg.Capture.ProcessName,
		SettleDelay: cfg.Capture.SettleDelay,
		ControlURL:  cfg.Capture.ControlURL,
		Password:    cfg.Capture.Password,
		Mode:        cfg.Capture.Mode,
	}, capture.OSPlatform{}, kiosk, log)
}
