package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv  string
	AppPort string

	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string

	// RSA keypair used by the signature codec. The private key signs
	// outbound forwards; the public key verifies inbound provider webhooks.
	PrivateKeyPath string
	PublicKeyPath  string

	// MerchantID identifies this relay on signed envelopes and outbound
	// X-PARTNER-ID headers.
	MerchantID string

	ProviderBaseURL string
	ProviderTimeout time.Duration

	KafkaBrokers      []string
	EventTopic        string
	ForwardTopic      string
	DeadLetterTopic   string
	WorkerMaxRetries  int
	OperatorJWTSecret string

	PrecheckWindow      time.Duration
	PrecheckConcurrency int
	PrecheckBatchSize   int
	ExpireBatchSize     int
	ScheduleInterval    time.Duration

	ShutdownTimeout time.Duration
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:  os.Getenv("APP_ENV"),
		AppPort: getEnv("APP_PORT", "8080"),

		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     getEnv("DB_PORT", "5432"),

		PrivateKeyPath: os.Getenv("RSA_PRIVATE_KEY_PATH"),
		PublicKeyPath:  os.Getenv("RSA_PUBLIC_KEY_PATH"),

		MerchantID: getEnv("MERCHANT_ID", "paylink"),

		ProviderBaseURL: os.Getenv("PROVIDER_BASE_URL"),
		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 10*time.Second),

		KafkaBrokers:      []string{getEnv("KAFKA_BROKER", "kafka:9092")},
		EventTopic:        getEnv("KAFKA_EVENT_TOPIC", "payment.events"),
		ForwardTopic:      getEnv("KAFKA_FORWARD_TOPIC", "payment.forwards"),
		DeadLetterTopic:   getEnv("KAFKA_DLQ_TOPIC", "payment.forwards.dlq"),
		WorkerMaxRetries:  getInt("WORKER_MAX_RETRIES", 5),
		OperatorJWTSecret: os.Getenv("SECRET_KEY"),

		PrecheckWindow:      getDuration("PRECHECK_WINDOW", 120*time.Second),
		PrecheckConcurrency: getInt("PRECHECK_CONCURRENCY", 20),
		PrecheckBatchSize:   getInt("PRECHECK_BATCH_SIZE", 200),
		ExpireBatchSize:     getInt("EXPIRE_BATCH_SIZE", 500),
		ScheduleInterval:    getDuration("SCHEDULE_INTERVAL", time.Minute),

		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return d
}
