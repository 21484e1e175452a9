package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DB           DBConfig
	Redis        RedisConfig
	Server       ServerConfig
	JWT          JWTConfig
	RelyingParty RelyingPartyConfig
	Challenge    ChallengeConfig
	Recovery     RecoveryConfig
	SMTP         SMTPConfig
	Kafka        KafkaConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port        string
	FrontendURL string
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

// RelyingPartyConfig describes this deployment to WebAuthn clients. Origins
// must list every origin ceremonies are served from.
type RelyingPartyConfig struct {
	ID               string
	DisplayName      string
	Origins          []string
	Attestation      string
	UserVerification string
	CeremonyTimeout  time.Duration
}

type ChallengeConfig struct {
	TTL time.Duration
}

type RecoveryConfig struct {
	CodeCount    int
	CodeLength   int
	EmailEnabled bool
	TokenTTL     time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "keyward"),
			Password: getEnv("DB_PASSWORD", "keyward_secret"),
			Name:     getEnv("DB_NAME", "keyward"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3001"),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		RelyingParty: RelyingPartyConfig{
			ID:               getEnv("RP_ID", "localhost"),
			DisplayName:      getEnv("RP_DISPLAY_NAME", "Keyward"),
			Origins:          getEnvAsSlice("RP_ORIGINS", []string{"http://localhost:3001"}),
			Attestation:      getEnv("RP_ATTESTATION", "none"),
			UserVerification: getEnv("RP_USER_VERIFICATION", "preferred"),
			CeremonyTimeout:  getEnvAsDuration("RP_CEREMONY_TIMEOUT", 60*time.Second),
		},
		Challenge: ChallengeConfig{
			TTL: getEnvAsDuration("CHALLENGE_TTL", 5*time.Minute),
		},
		Recovery: RecoveryConfig{
			CodeCount:    getEnvAsInt("RECOVERY_CODE_COUNT", 8),
			CodeLength:   getEnvAsInt("RECOVERY_CODE_LENGTH", 20),
			EmailEnabled: getEnvAsBool("RECOVERY_EMAIL_ENABLED", true),
			TokenTTL:     getEnvAsDuration("RECOVERY_TOKEN_TTL", 60*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnv("SMTP_PORT", "587"),
			From:     getEnv("SMTP_FROM", "no-reply@keyward.local"),
			Password: getEnv("SMTP_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvAsBool("KAFKA_ENABLED", false),
			Brokers: getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "keyward.auth-events"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
