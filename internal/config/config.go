package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	Retry    RetryConfig
	Zarinpal ZarinpalConfig
	TorobPay TorobPayConfig
	Azkivam  AzkivamConfig
	SnappPay SnappPayConfig
}

type AppConfig struct {
	Env         string `env:"APP_ENV" env-default:"development"`
	Port        string `env:"APP_PORT" env-default:"8080"`
	LogLevel    string `env:"LOG_LEVEL"`
	JWTSecret   string `env:"SECRET_KEY"`
	InternalKey string `env:"INTERNAL_SECRET_KEY"`
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`
	Port     string `env:"DB_PORT" env-default:"5432"`
	SSLMode  string `env:"DB_SSLMODE" env-default:"disable"`
	URL      string `env:"DB_URL"`
}

type KafkaConfig struct {
	Brokers          []string `env:"KAFKA_BROKERS" env-separator:","`
	OrderStatusTopic string   `env:"KAFKA_ORDER_STATUS_TOPIC" env-default:"order-status-events"`
}

// RetryConfig is the outbound call policy shared by every gateway.
type RetryConfig struct {
	MaxAttempts int           `env:"GATEWAY_MAX_ATTEMPTS" env-default:"3"`
	Backoff     time.Duration `env:"GATEWAY_RETRY_BACKOFF" env-default:"2s"`
	Timeout     time.Duration `env:"GATEWAY_TIMEOUT" env-default:"10s"`
	RateLimit   float64       `env:"GATEWAY_RATE_LIMIT" env-default:"20"`
	RateBurst   int           `env:"GATEWAY_RATE_BURST" env-default:"40"`
}

type ZarinpalConfig struct {
	Enabled     bool   `env:"ZARINPAL_ENABLED" env-default:"true"`
	MerchantID  string `env:"ZARIN_MERCHANT_ID"`
	RequestURL  string `env:"ZARIN_REQUEST_URL" env-default:"https://payment.zarinpal.com/pg/v4/payment/request.json"`
	VerifyURL   string `env:"ZARIN_VERIFY_URL" env-default:"https://payment.zarinpal.com/pg/v4/payment/verify.json"`
	StartPayURL string `env:"ZARIN_START_PAY_URL" env-default:"https://payment.zarinpal.com/pg/StartPay"`
	CallbackURL string `env:"ZARIN_CALLBACK_URL"`
	Description string `env:"ZARIN_DESCRIPTION" env-default:"خرید از آدورا یدک"`
}

type TorobPayConfig struct {
	Enabled      bool          `env:"TOROBPAY_ENABLED" env-default:"false"`
	BaseURL      string        `env:"TOROBPAY_BASE_URL"`
	Username     string        `env:"TOROBPAY_USERNAME"`
	Password     string        `env:"TOROBPAY_PASSWORD"`
	ClientID     string        `env:"TOROBPAY_CLIENT_ID"`
	ClientSecret string        `env:"TOROBPAY_CLIENT_SECRET"`
	ReturnURL    string        `env:"TOROBPAY_RETURN_URL"`
	TokenExpiry  time.Duration `env:"TOROBPAY_TOKEN_EXPIRY" env-default:"59m"`
	Paths        TorobPayPaths
}

type TorobPayPaths struct {
	Token    string `env:"TOROBPAY_TOKEN_PATH" env-default:"/api/online/v1/oauth/token"`
	Initiate string `env:"TOROBPAY_INITIATE_PATH" env-default:"/api/online/payment/v1/token"`
	Verify   string `env:"TOROBPAY_VERIFY_PATH" env-default:"/api/online/payment/v1/verify"`
	Settle   string `env:"TOROBPAY_SETTLE_PATH" env-default:"/api/online/payment/v1/settle"`
	Revert   string `env:"TOROBPAY_REVERT_PATH" env-default:"/api/online/payment/v1/revert"`
	Cancel   string `env:"TOROBPAY_CANCEL_PATH" env-default:"/api/online/payment/v1/cancel"`
}

type AzkivamConfig struct {
	Enabled     bool   `env:"AZKIVAM_ENABLED" env-default:"false"`
	BaseURL     string `env:"AZKIVAM_BASE_URL"`
	MerchantID  string `env:"AZKIVAM_MERCHANT_ID"`
	APIKey      string `env:"AZKIVAM_API_KEY"`
	SecretHex   string `env:"AZKIVAM_SECRET_KEY"`
	ProviderID  string `env:"AZKIVAM_PROVIDER_ID"`
	RedirectURL string `env:"AZKIVAM_REDIRECT_URL"`
	FallbackURL string `env:"AZKIVAM_FALLBACK_URL"`
	ProductURL  string `env:"AZKIVAM_PRODUCT_URL"`
	Paths       AzkivamPaths
}

type AzkivamPaths struct {
	Purchase string `env:"AZKIVAM_PURCHASE_PATH" env-default:"/payment/purchase"`
	Verify   string `env:"AZKIVAM_VERIFY_PATH" env-default:"/payment/verify"`
	Reverse  string `env:"AZKIVAM_REVERSE_PATH" env-default:"/payment/reverse"`
	Cancel   string `env:"AZKIVAM_CANCEL_PATH" env-default:"/payment/cancel"`
	Status   string `env:"AZKIVAM_STATUS_PATH" env-default:"/payment/status"`
}

type SnappPayConfig struct {
	Enabled      bool          `env:"SNAPPPAY_ENABLED" env-default:"false"`
	BaseURL      string        `env:"SNAPPPAY_BASE_URL"`
	Username     string        `env:"SNAPPPAY_USERNAME"`
	Password     string        `env:"SNAPPPAY_PASSWORD"`
	ClientID     string        `env:"SNAPPPAY_CLIENT_ID"`
	ClientSecret string        `env:"SNAPPPAY_CLIENT_SECRET"`
	ReturnURL    string        `env:"SNAPPPAY_RETURN_URL"`
	TokenExpiry  time.Duration `env:"SNAPPPAY_TOKEN_EXPIRY" env-default:"50m"`
	Paths        SnappPayPaths
}

type SnappPayPaths struct {
	Token    string `env:"SNAPPPAY_TOKEN_PATH" env-default:"/api/online/v1/oauth/token"`
	Initiate string `env:"SNAPPPAY_INITIATE_PATH" env-default:"/api/online/payment/v1/token"`
	Verify   string `env:"SNAPPPAY_VERIFY_PATH" env-default:"/api/online/payment/v1/verify"`
	Settle   string `env:"SNAPPPAY_SETTLE_PATH" env-default:"/api/online/payment/v1/settle"`
	Revert   string `env:"SNAPPPAY_REVERT_PATH" env-default:"/api/online/payment/v1/revert"`
	Cancel   string `env:"SNAPPPAY_CANCEL_PATH" env-default:"/api/online/payment/v1/cancel"`
	Update   string `env:"SNAPPPAY_UPDATE_PATH" env-default:"/api/online/payment/v1/update"`
	Status   string `env:"SNAPPPAY_STATUS_PATH" env-default:"/api/online/payment/v1/status"`
}

// JoinURL joins a gateway base URL and an endpoint path.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks that every enabled gateway carries its credentials.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Host == "" {
		errs = append(errs, errors.New("DB_HOST is not set"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("GATEWAY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Zarinpal.Enabled && (c.Zarinpal.MerchantID == "" || c.Zarinpal.CallbackURL == "") {
		errs = append(errs, errors.New("zarinpal: ZARIN_MERCHANT_ID and ZARIN_CALLBACK_URL are required"))
	}
	if c.TorobPay.Enabled && (c.TorobPay.BaseURL == "" || c.TorobPay.Username == "" || c.TorobPay.Password == "") {
		errs = append(errs, errors.New("torobpay: TOROBPAY_BASE_URL, TOROBPAY_USERNAME and TOROBPAY_PASSWORD are required"))
	}
	if c.Azkivam.Enabled && (c.Azkivam.BaseURL == "" || c.Azkivam.MerchantID == "" || c.Azkivam.APIKey == "" || c.Azkivam.SecretHex == "") {
		errs = append(errs, errors.New("azkivam: AZKIVAM_BASE_URL, AZKIVAM_MERCHANT_ID, AZKIVAM_API_KEY and AZKIVAM_SECRET_KEY are required"))
	}
	if c.SnappPay.Enabled && (c.SnappPay.BaseURL == "" || c.SnappPay.ClientID == "" || c.SnappPay.ClientSecret == "") {
		errs = append(errs, errors.New("snapppay: SNAPPPAY_BASE_URL, SNAPPPAY_CLIENT_ID and SNAPPPAY_CLIENT_SECRET are required"))
	}

	return errors.Join(errs...)
}
