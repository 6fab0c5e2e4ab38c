package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/boothflow/internal/aws"
	"github.com/imrishuroy/boothflow/internal/handlers"
	"github.com/imrishuroy/boothflow/internal/logger"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterNotificationRoutes(r, cfg)

	return r
}

func main() {
	log := logger.New(envOr("LOG_LEVEL", "info"), "json")
	entry := logrus.NewEntry(log).WithField("service", "boothflow-relay")

	clients, err := aws.NewAWSClients(context.Background(), os.Getenv("AWS_REGION"))
	if err != nil {
		entry.WithError(err).Fatal("failed to init aws clients")
	}

	cfg := handlers.HandlerConfig{
		DynamoDBClient:   clients.DynamoDB,
		SQSClient:        clients.SQS,
		IdempotencyTable: os.Getenv("IDEMPOTENCY_TABLE"),
		QueueURL:         os.Getenv("NOTIFICATION_QUEUE_URL"),
		TTLWindow:        48 * time.Hour,
		Log:              entry,
	}
	if cfg.IdempotencyTable == "" || cfg.QueueURL == "" {
		entry.Fatal("IDEMPOTENCY_TABLE and NOTIFICATION_QUEUE_URL must be set")
	}

	gin.SetMode(gin.ReleaseMode)
	r := setupRouter(cfg)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := envOr("LISTEN_ADDR", ":8080")
		entry.WithField("addr", addr).Info("running local server")
		if err := r.Run(addr); err != nil {
			entry.WithError(err).Fatal("failed to run local server")
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
