package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/imrishuroy/boothflow/internal/aws"
	"github.com/imrishuroy/boothflow/internal/capture"
	"github.com/imrishuroy/boothflow/internal/config"
	"github.com/imrishuroy/boothflow/internal/control"
	"github.com/imrishuroy/boothflow/internal/ingress"
	"github.com/imrishuroy/boothflow/internal/logger"
	"github.com/imrishuroy/boothflow/internal/metrics"
	"github.com/imrishuroy/boothflow/internal/payment"
	"github.com/imrishuroy/boothflow/internal/pubsub"
	"github.com/imrishuroy/boothflow/internal/relay"
	"github.com/imrishuroy/boothflow/internal/session"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the kiosk: event listener, control API and session orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	base := logger.New(cfg.Log.Level, cfg.Log.Format)
	log := base.WithField("machine_id", cfg.MachineID)
	if base.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Payment.ServerKey == "" {
		log.Warn("payment server key not set, every payment notification will be rejected")
	}

	var rec metrics.Recorder = metrics.Nop{}
	var clients *aws.AWSClients
	if cfg.AWS.MetricsNamespace != "" || cfg.AWS.NotificationQueueURL != "" {
		c, err := aws.NewAWSClients(ctx, cfg.AWS.Region)
		if err != nil {
			return fmt.Errorf("init aws clients: %w", err)
		}
		clients = c
	}

	var wg sync.WaitGroup
	bg, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	if clients != nil && cfg.AWS.MetricsNamespace != "" {
		cw := metrics.NewCloudWatch(clients.CloudWatch, cfg.AWS.MetricsNamespace, cfg.MachineID, cfg.AWS.MetricsInterval, log)
		rec = cw
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.Run(bg)
		}()
	}

	in := ingress.New(payment.NewVerifier(cfg.Payment.ServerKey, log), rec, log)
	defer in.Close()

	intents := pubsub.NewBroker[session.Intent]("intents", 0, log)
	defer intents.Close()
	kioskWindow := capture.KioskWindowFunc(func(visible bool) error {
		intents.Publish(session.KioskVisibility(visible))
		return nil
	})
	device := newCapture(cfg, kioskWindow, log)

	orch := session.New(session.Deps{
		Gateway:         newGateway(cfg, log),
		Backoffice:      newBackoffice(cfg, log),
		Device:          device,
		CaptureEvents:   in.CaptureEvents(),
		PaymentOutcomes: in.PaymentOutcomes(),
		Metrics:         rec,
		Log:             log,
	}, session.Options{
		MachineID:           cfg.MachineID,
		Price:               cfg.Price(),
		CollaboratorTimeout: cfg.CollaboratorTimeout,
		Intents:             intents,
	})

	// bind both listeners before anything else runs; a bind failure is fatal
	eventSrv, err := ingress.Listen(cfg.ListenAddr, in.Router(), log.WithField("listener", "events"))
	if err != nil {
		return err
	}
	controlSrv, err := ingress.Listen(cfg.ControlAddr, control.Router(control.Config{
		Kiosk: orch,
		Pin:   cfg.ApplicationPin,
		Log:   log,
	}), log.WithField("listener", "control"))
	if err != nil {
		_ = eventSrv.Shutdown(context.Background())
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = orch.Run(bg)
	}()

	if clients != nil && cfg.AWS.NotificationQueueURL != "" {
		poller := relay.NewPoller(clients.SQS, cfg.AWS.NotificationQueueURL, in, rec, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = poller.Run(bg)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		prepareCapture(bg, cfg, device, log)
	}()

	serveErr := make(chan error, 2)
	for _, srv := range []*ingress.Server{eventSrv, controlSrv} {
		srv := srv
		go func() { serveErr <- srv.Serve() }()
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err = <-serveErr:
		log.WithError(err).Error("listener failed")
	}

	// stop accepting first, then let in-flight handlers finish
	grace, cancelGrace := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancelGrace()
	if shutErr := eventSrv.Shutdown(grace); shutErr != nil {
		log.WithError(shutErr).Warn("event listener shutdown")
	}
	if shutErr := controlSrv.Shutdown(grace); shutErr != nil {
		log.WithError(shutErr).Warn("control listener shutdown")
	}

	cancelBg()
	wg.Wait()
	log.Info("kiosk stopped")
	return err
}

// prepareCapture launches (or finds) the capture application at startup and
// keeps it behind the kiosk. Configuration problems are only reported.
func prepareCapture(ctx context.Context, cfg *config.Config, device *capture.Adapter, log *logrus.Entry) {
	if err := cfg.CheckCapture(); err != nil {
		log.WithError(err).Warn("capture application unavailable, run `kiosk doctor`")
		return
	}
	if _, err := device.Launch(ctx); err != nil {
		log.WithError(err).Error("startup launch of capture application failed")
		return
	}
	if err := device.SetVisibility(ctx, false); err != nil {
		log.WithError(err).Warn("hide capture application")
	}
}
