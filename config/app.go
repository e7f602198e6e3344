package config

import "time"

type App struct {
	DatabaseURL    string        `env:"DATABASE_URL,required"`
	GatewayBaseURL string        `env:"GATEWAY_BASE_URL" default:"https://api.xendit.co"`
	GatewayAPIKey  string        `env:"GATEWAY_API_KEY"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" default:"1h"`
	TopupExpirySec int           `env:"TOPUP_EXPIRY_SEC" default:"86400"`
	EventBuffer    int           `env:"EVENT_BUFFER" default:"256"`
	Env            string        `env:"APP_ENV" default:"dev"`
}
