package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"NProject/data/database/mgo/mongoutil"
	"NProject/logger"
	redisx "NProject/service/storage/redis"
	"NProject/tools/ids"
)

// AppConfig is the process-wide configuration, loaded from the environment
// with workable single-node defaults.
type AppConfig struct {
	NodeID int64
	Port   string

	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	Mongo mongoutil.Config

	AuditEnabled bool
	KafkaBrokers []string
	AuditTopic   string

	RelayEnabled bool
	NatsServers  []string

	// collaboration tunables
	SessionTTL     time.Duration
	CursorInterval time.Duration
	HistoryLimit   int
	RetryBase      time.Duration
	RetryCap       time.Duration
}

var Global AppConfig

func Load() {
	Global = AppConfig{
		NodeID: envInt64("COLLAB_NODE_ID", 1),
		Port:   env("COLLAB_PORT", "8088"),

		JWTSecret: env("COLLAB_JWT_SECRET", "dev-secret-change-me"),

		RedisAddr:     env("COLLAB_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: env("COLLAB_REDIS_PASSWORD", ""),
		RedisDB:       int(envInt64("COLLAB_REDIS_DB", 0)),
		RedisPoolSize: int(envInt64("COLLAB_REDIS_POOL", 50)),

		Mongo: mongoutil.Config{
			Uri:         env("COLLAB_MONGO_URI", ""),
			Address:     envList("COLLAB_MONGO_ADDRESS", "127.0.0.1:27017"),
			Database:    env("COLLAB_MONGO_DATABASE", "collab_notes"),
			Username:    env("COLLAB_MONGO_USERNAME", ""),
			Password:    env("COLLAB_MONGO_PASSWORD", ""),
			AuthSource:  env("COLLAB_MONGO_AUTHSOURCE", ""),
			MaxPoolSize: int(envInt64("COLLAB_MONGO_POOL", 100)),
			MaxRetry:    int(envInt64("COLLAB_MONGO_RETRY", 3)),
		},

		AuditEnabled: envBool("COLLAB_AUDIT_ENABLED", false),
		KafkaBrokers: envList("COLLAB_KAFKA_BROKERS", "127.0.0.1:9092"),
		AuditTopic:   env("COLLAB_AUDIT_TOPIC", "note-operations"),

		RelayEnabled: envBool("COLLAB_RELAY_ENABLED", false),
		NatsServers:  envList("COLLAB_NATS_SERVERS", "nats://127.0.0.1:4222"),

		SessionTTL:     envDuration("COLLAB_SESSION_TTL", 90*time.Second),
		CursorInterval: envDuration("COLLAB_CURSOR_INTERVAL", 50*time.Millisecond),
		HistoryLimit:   int(envInt64("COLLAB_HISTORY_LIMIT", 4096)),
		RetryBase:      envDuration("COLLAB_RETRY_BASE", 250*time.Millisecond),
		RetryCap:       envDuration("COLLAB_RETRY_CAP", 10*time.Second),
	}
}

// ConfigAll loads the config and wires the subsystems that have no failure
// mode worth handling at the call site. Mongo is connected separately so the
// caller can pick a fallback.
func ConfigAll() {
	Load()
	ConfigIds()
	ConfigRedis()
}

// ConfigIds seeds the id generator with this node's id.
func ConfigIds() {
	ids.SetNodeID(Global.NodeID)
}

// ConfigRedis brings up the shared Redis client. Redis is optional in
// single-node development; presence mirroring and feature flags degrade to
// no-ops without it.
func ConfigRedis() bool {
	err := redisx.InitRedis(redisx.Config{
		Addr:     Global.RedisAddr,
		Password: Global.RedisPassword,
		DB:       Global.RedisDB,
		PoolSize: Global.RedisPoolSize,
	})
	if err != nil {
		logger.Warnf("[config] redis unavailable addr=%s err=%v", Global.RedisAddr, err)
		return false
	}
	return true
}

// ConfigMgo connects MongoDB. The caller decides what to do when the
// connection fails; development falls back to in-memory stores.
func ConfigMgo(ctx context.Context) (*mongoutil.Client, error) {
	cfg := Global.Mongo
	return mongoutil.NewMongoDB(ctx, &cfg)
}

func GetJwtSecret() []byte { return []byte(Global.JWTSecret) }

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key, def string) []string {
	raw := env(key, def)
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
