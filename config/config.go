package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration. It is loaded once in main and
// handed to the components that need it.
type Config struct {
	HTTPAddr string
	LogLevel string

	DB       DBConfig
	Razorpay RazorpayConfig
	SMTP     SMTPConfig
	Kafka    KafkaConfig

	// AuthJWTSecret verifies bearer tokens issued by the identity provider.
	AuthJWTSecret string

	NotifyQueueSize     int
	ReconcileStaleAfter time.Duration
	TrustName           string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RazorpayConfig holds gateway credentials. KeyID is public and is returned to
// the browser; KeySecret and WebhookSecret never leave the server.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	// Recurring switches monthly and yearly plans to gateway-managed
	// subscriptions instead of pay-per-period orders.
	Recurring bool
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// Enabled reports whether enough SMTP settings are present to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.User != "" && c.Pass != "" && c.Sender() != ""
}

// Sender returns the From address, falling back to the SMTP user.
func (c SMTPConfig) Sender() string {
	if c.From != "" {
		return c.From
	}
	return c.User
}

type KafkaConfig struct {
	Brokers  []string
	GroupID  string
	DLQTopic string
}

// Enabled reports whether at least one broker is configured.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

var envLocations = []string{
	".env",
	"config/.env",
	"../config/.env",
	"../../config/.env",
}

// Load reads the first .env file found (if any) and builds a Config from the
// environment.
func Load() Config {
	envLoaded := false
	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		log.Println("No .env file found, using environment variables")
	}

	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() Config {
	return Config{
		HTTPAddr: getEnvWithDefault("HTTP_ADDR", ":8080"),
		LogLevel: getEnvWithDefault("LOG_LEVEL", "info"),

		DB: DBConfig{
			Host:     getEnvWithDefault("DB_HOST", "localhost"),
			Port:     getEnvWithDefault("DB_PORT", "5432"),
			User:     getEnvWithDefault("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     getEnvWithDefault("DB_NAME", "postgres"),
			SSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),
		},

		Razorpay: RazorpayConfig{
			KeyID:         os.Getenv("RAZORPAY_KEY_ID"),
			KeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
			WebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
			Recurring:     getBool("RAZORPAY_RECURRING", false),
		},

		SMTP: SMTPConfig{
			Host: getEnvWithDefault("SMTP_HOST", "smtp.gmail.com"),
			Port: getInt("SMTP_PORT", 587),
			User: os.Getenv("SMTP_USER"),
			Pass: os.Getenv("SMTP_PASS"),
			From: os.Getenv("EMAIL_FROM"),
		},

		// Comma-separated brokers; empty disables Kafka entirely.
		Kafka: KafkaConfig{
			Brokers:  splitList(os.Getenv("KAFKA_BROKERS")),
			GroupID:  getEnvWithDefault("KAFKA_GROUP_ID", "trust-payments"),
			DLQTopic: getEnvWithDefault("KAFKA_DLQ_TOPIC", "emails.dlq"),
		},

		AuthJWTSecret: os.Getenv("AUTH_JWT_SECRET"),

		NotifyQueueSize:     getInt("NOTIFY_QUEUE_SIZE", 100),
		ReconcileStaleAfter: getDuration("RECONCILE_STALE_AFTER", time.Hour),
		TrustName:           getEnvWithDefault("TRUST_NAME", "Sports Charitable Trust"),
	}
}

// ConnString renders a lib/pq key/value connection string.
func (c DBConfig) ConnString() string {
	parts := []string{
		"host=" + c.Host,
		"port=" + c.Port,
		"user=" + c.User,
		"dbname=" + c.Name,
		"sslmode=" + c.SSLMode,
	}
	if c.Password != "" {
		parts = append(parts, "password="+c.Password)
	}
	return strings.Join(parts, " ")
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Invalid integer for %s=%q, using %d", key, v, defaultValue)
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("Invalid boolean for %s=%q, using %t", key, v, defaultValue)
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s=%q, using %s", key, v, defaultValue)
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
