package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

func Load() App {
	cfg := App{
		DatabaseURL:    must("DATABASE_URL"),
		GatewayBaseURL: getenv("GATEWAY_BASE_URL", "https://api.xendit.co"),
		GatewayAPIKey:  os.Getenv("GATEWAY_API_KEY"),
		SweepInterval:  getduration("SWEEP_INTERVAL", time.Hour),
		TopupExpirySec: getint("TOPUP_EXPIRY_SEC", 86400),
		EventBuffer:    getint("EVENT_BUFFER", 256),
		Env:            getenv("APP_ENV", "dev"),
	}
	return cfg
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("bad int env, using default", "key", k, "value", v)
		return def
	}
	return n
}

func getduration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("bad duration env, using default", "key", k, "value", v)
		return def
	}
	return d
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		slog.Error("required env missing", "key", k)
		panic("missing env " + k)
	}
	return v
}
