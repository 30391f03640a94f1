// Package config builds runtime configuration from environment variables so
// main stays lean. Every knob has a safe default for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration for the enforcement gateway.
type Config struct {
	Addr           string
	JWTSigningKey  string
	ScoringKeyHash string // bcrypt hash of the scoring engine API key; empty disables

	PostgresDSN string // empty: in-memory stores
	RedisURL    string // empty: in-memory cooldowns and local-only safe mode

	KafkaBrokers       []string
	FeedbackTopic      string
	AuditMirrorTopic   string
	ActionTopic        string
	FeedbackBufferSize int

	DispatcherWorkers int
	ExecutionTimeout  time.Duration
	LedgerTimeout     time.Duration

	ProposalTTL         time.Duration
	ContextTTL          time.Duration
	DedupWindow         time.Duration
	DedupIndexCleanup   time.Duration
	IncidentWindow      time.Duration
	CooldownSession     time.Duration
	CooldownUser        time.Duration
	CooldownTenant      time.Duration
	EscalationThreshold int
}

// Redis holds connection tuning for the Redis client.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:           envOr("AEGIS_ADDR", ":8080"),
		JWTSigningKey:  envOr("AEGIS_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		ScoringKeyHash: os.Getenv("AEGIS_SCORING_KEY_HASH"),

		PostgresDSN: os.Getenv("AEGIS_POSTGRES_DSN"),
		RedisURL:    os.Getenv("AEGIS_REDIS_URL"),

		FeedbackTopic:      envOr("AEGIS_FEEDBACK_TOPIC", "aegis.ml.feedback"),
		AuditMirrorTopic:   envOr("AEGIS_AUDIT_MIRROR_TOPIC", "aegis.audit.entries"),
		ActionTopic:        envOr("AEGIS_ACTION_TOPIC", "aegis.enforcement.actions"),
		FeedbackBufferSize: envInt("AEGIS_FEEDBACK_BUFFER", 10000),

		DispatcherWorkers: envInt("AEGIS_DISPATCHER_WORKERS", 8),
		ExecutionTimeout:  envDuration("AEGIS_EXECUTION_TIMEOUT", 10*time.Second),
		LedgerTimeout:     envDuration("AEGIS_LEDGER_TIMEOUT", 5*time.Second),

		ProposalTTL:         envDuration("AEGIS_PROPOSAL_TTL", 15*time.Minute),
		ContextTTL:          envDuration("AEGIS_CONTEXT_TTL", 5*time.Minute),
		DedupWindow:         envDuration("AEGIS_DEDUP_WINDOW", 5*time.Minute),
		DedupIndexCleanup:   envDuration("AEGIS_DEDUP_CLEANUP", time.Hour),
		IncidentWindow:      envDuration("AEGIS_INCIDENT_WINDOW", 30*time.Minute),
		CooldownSession:     envDuration("AEGIS_COOLDOWN_SESSION", 5*time.Minute),
		CooldownUser:        envDuration("AEGIS_COOLDOWN_USER", 15*time.Minute),
		CooldownTenant:      envDuration("AEGIS_COOLDOWN_TENANT", time.Hour),
		EscalationThreshold: envInt("AEGIS_COOLDOWN_ESCALATION_THRESHOLD", 3),
	}

	if brokers := os.Getenv("AEGIS_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	return cfg
}

// RedisFromEnv builds Redis client configuration.
func RedisFromEnv() Redis {
	return Redis{
		URL:          os.Getenv("AEGIS_REDIS_URL"),
		PoolSize:     envInt("AEGIS_REDIS_POOL_SIZE", 10),
		MinIdleConns: envInt("AEGIS_REDIS_MIN_IDLE", 2),
		DialTimeout:  envDuration("AEGIS_REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDuration("AEGIS_REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDuration("AEGIS_REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
