package config

import "time"

type Config struct {
	Web      Web
	Cors     Cors
	DB       DB
	Redis    Redis
	Progress Progress
	Rate     Rate
	Metrics  Metrics
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type Cors struct {
	Origin string `conf:"default:*"`
}

type DB struct {
	User         string `conf:"default:postgres"`
	Password     string `conf:"default:postgres,mask"`
	Host         string `conf:"default:localhost:5432"`
	Name         string `conf:"default:coursestream"`
	MaxIdleConns int    `conf:"default:2"`
	MaxOpenConns int    `conf:"default:0"`
	DisableTLS   bool   `conf:"default:true"`
}

type Redis struct {
	Address  string        `conf:"help:empty disables the analytics mirror"`
	Password string        `conf:"mask"`
	DB       int           `conf:"default:0"`
	TTL      time.Duration `conf:"default:24h"`
}

type Progress struct {
	SyncInterval   time.Duration `conf:"default:10s"`
	FlushInterval  time.Duration `conf:"default:30s"`
	WatchTick      time.Duration `conf:"default:1s"`
	SyncThrottle   time.Duration `conf:"default:5s"`
	WatchLimit     int           `conf:"default:10"`
	InteractLimit  int           `conf:"default:20"`
	PassThreshold  float64       `conf:"default:0.7"`
	SyncJitter     float64       `conf:"default:0.1"`
	SessionTimeout time.Duration `conf:"default:30s,help:deadline for the final sync of a closed session"`
	StoreURL       string        `conf:"help:progress API of another instance; empty writes to the local database"`
}

type Rate struct {
	Burst  int           `conf:"default:20"`
	RPS    float64       `conf:"default:10"`
	Expiry time.Duration `conf:"default:10m"`
}

type Metrics struct {
	Enabled bool   `conf:"default:true"`
	Path    string `conf:"default:/metrics"`
}
