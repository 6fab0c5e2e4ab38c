package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/imrishuroy/boothflow/internal/validation"
)

// EnvPrefix is prepended to every environment override, e.g. BOOTHFLOW_PAYMENT_SERVER_KEY.
const EnvPrefix = "BOOTHFLOW"

// Config is the kiosk configuration.
type Config struct {
	MachineID           string        `mapstructure:"machine_id" validate:"required"`
	ServicePrice        string        `mapstructure:"service_price" validate:"required,decimal_amount"`
	ApplicationPin      string        `mapstructure:"application_pin" validate:"required,numeric,min=4,max=8"`
	ListenAddr          string        `mapstructure:"listen_addr" validate:"required,hostname_port"`
	ControlAddr         string        `mapstructure:"control_addr" validate:"required,hostname_port"`
	ShutdownGrace       time.Duration `mapstructure:"shutdown_grace" validate:"gt=0"`
	CollaboratorTimeout time.Duration `mapstructure:"collaborator_timeout" validate:"gt=0"`

	Log        LogConfig        `mapstructure:"log"`
	Payment    PaymentConfig    `mapstructure:"payment"`
	Capture    CaptureConfig    `mapstructure:"capture"`
	Backoffice BackofficeConfig `mapstructure:"backoffice"`
	AWS        AWSConfig        `mapstructure:"aws"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type PaymentConfig struct {
	ServerKey       string `mapstructure:"server_key"`
	Production      bool   `mapstructure:"production"`
	BaseURL         string `mapstructure:"base_url" validate:"omitempty,url"`
	NotificationURL string `mapstructure:"notification_url" validate:"omitempty,url"`
}

type CaptureConfig struct {
	Path        string        `mapstructure:"path"`
	ProcessName string        `mapstructure:"process_name" validate:"required"`
	SettleDelay time.Duration `mapstructure:"settle_delay" validate:"gte=0"`
	ControlURL  string        `mapstructure:"control_url" validate:"omitempty,url"`
	Password    string        `mapstructure:"password"`
	Mode        string        `mapstructure:"mode" validate:"omitempty,oneof=print gif boomerang video"`
}

type BackofficeConfig struct {
	URL      string `mapstructure:"url" validate:"omitempty,url"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type AWSConfig struct {
	Region               string        `mapstructure:"region"`
	NotificationQueueURL string        `mapstructure:"notification_queue_url" validate:"omitempty,url"`
	MetricsNamespace     string        `mapstructure:"metrics_namespace"`
	MetricsInterval      time.Duration `mapstructure:"metrics_interval" validate:"gte=0"`
}

// Price returns the configured service price.
func (c *Config) Price() decimal.Decimal {
	d, err := decimal.NewFromString(c.ServicePrice)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// GatewayBaseURL picks the sandbox or production charge API unless overridden.
func (c *Config) GatewayBaseURL() string {
	if c.Payment.BaseURL != "" {
		return c.Payment.BaseURL
	}
	if c.Payment.Production {
		return "https://api.midtrans.com/v2/"
	}
	return "https://api.sandbox.midtrans.com/v2/"
}

// ErrCapturePathNotSet and ErrCaptureMissing are reported by CheckCapture.
var (
	ErrCapturePathNotSet = errors.New("capture application path is not set")
	ErrCaptureMissing    = errors.New("capture application executable not found")
)

// CheckCapture reports configuration problems with the capture application.
// They never fail Load: the kiosk still starts and surfaces them to the operator.
func (c *Config) CheckCapture() error {
	if c.Capture.Path == "" {
		return ErrCapturePathNotSet
	}
	info, err := os.Stat(c.Capture.Path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrCaptureMissing, c.Capture.Path)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("machine_id", "")
	v.SetDefault("service_price", "0")
	v.SetDefault("application_pin", "1234")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("control_addr", "127.0.0.1:8081")
	v.SetDefault("shutdown_grace", 10*time.Second)
	v.SetDefault("collaborator_timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("payment.server_key", "")
	v.SetDefault("payment.production", false)
	v.SetDefault("payment.base_url", "")
	v.SetDefault("payment.notification_url", "")
	v.SetDefault("capture.path", "")
	v.SetDefault("capture.process_name", "dslrBooth")
	v.SetDefault("capture.settle_delay", 3*time.Second)
	v.SetDefault("capture.control_url", "http://localhost:1500/api/start")
	v.SetDefault("capture.password", "")
	v.SetDefault("capture.mode", "print")
	v.SetDefault("backoffice.url", "")
	v.SetDefault("backoffice.database", "")
	v.SetDefault("backoffice.username", "")
	v.SetDefault("backoffice.password", "")
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.notification_queue_url", "")
	v.SetDefault("aws.metrics_namespace", "")
	v.SetDefault("aws.metrics_interval", time.Minute)
}

// Load reads path (if it exists) and applies BOOTHFLOW_* environment overrides.
// An empty path means ./kiosk.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = filepath.Join(".", "kiosk.yaml")
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validation.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %v", validation.ErrorsToMap(err))
	}
	return &cfg, nil
}
