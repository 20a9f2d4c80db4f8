// Package config loads the siemd configuration from a YAML file with
// environment-variable overrides for deployment-specific values.
package config

import (
	"os"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Detection DetectionConfig `yaml:"detection"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Push      PushConfig      `yaml:"push"`
	Stores    StoresConfig    `yaml:"stores"`
	Filter    FilterConfig    `yaml:"filter"`
}

type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"` // /ws, /metrics, /healthz
	Env      string `yaml:"env"`
}

type IngestConfig struct {
	UDPAddr               string `yaml:"udp_addr"`
	TCPAddr               string `yaml:"tcp_addr"`
	TLSAddr               string `yaml:"tls_addr"`
	TLSCertFile           string `yaml:"tls_cert_file"`
	TLSKeyFile            string `yaml:"tls_key_file"`
	MaxFrameBytes         int    `yaml:"max_frame_bytes"`
	ListenerQueueCapacity int    `yaml:"listener_queue_capacity"`
	ReadTimeoutSeconds    int    `yaml:"read_timeout_seconds"`
	TLSHandshakeSeconds   int    `yaml:"tls_handshake_seconds"`
	ParserWorkers         int    `yaml:"parser_workers"`
}

type DetectionConfig struct {
	BFWindowSeconds int `yaml:"bf_window_seconds"`
	BFThreshold     int `yaml:"bf_threshold"`
	PSWindowSeconds int `yaml:"ps_window_seconds"`
	PSThreshold     int `yaml:"ps_threshold"`
	ShardCount      int `yaml:"shard_count"`
}

type AlertingConfig struct {
	DedupBucketSeconds       int `yaml:"dedup_bucket_seconds"`
	CorrelationWindowSeconds int `yaml:"correlation_window_seconds"`
}

type PushConfig struct {
	SessionIdleTimeoutSeconds int    `yaml:"session_idle_timeout_seconds"`
	JWTSecret                 string `yaml:"jwt_secret"`
}

type StoresConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

type FilterConfig struct {
	FPEnabled bool    `yaml:"fp_enabled"`
	EmitFloor float64 `yaml:"emit_floor"`
}

// Default returns the documented defaults. Load starts from these so a
// partial config file only overrides what it names.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: ":8080", Env: "development"},
		Ingest: IngestConfig{
			UDPAddr:               ":514",
			TCPAddr:               ":601",
			TLSAddr:               ":6514",
			MaxFrameBytes:         8192,
			ListenerQueueCapacity: 65536,
			ReadTimeoutSeconds:    30,
			TLSHandshakeSeconds:   10,
			ParserWorkers:         min(4, runtime.NumCPU()),
		},
		Detection: DetectionConfig{
			BFWindowSeconds: 300,
			BFThreshold:     5,
			PSWindowSeconds: 600,
			PSThreshold:     10,
			ShardCount:      runtime.NumCPU(),
		},
		Alerting: AlertingConfig{
			DedupBucketSeconds:       300,
			CorrelationWindowSeconds: 1800,
		},
		Push: PushConfig{SessionIdleTimeoutSeconds: 90},
		Stores: StoresConfig{
			RedisAddr: "localhost:6379",
		},
		Filter: FilterConfig{FPEnabled: true, EmitFloor: 0.3},
	}
}

// Load reads path (if non-empty), then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr("SIEM_HTTP_ADDR", &c.Server.HTTPAddr)
	envStr("SIEM_REDIS_ADDR", &c.Stores.RedisAddr)
	envStr("SIEM_REDIS_PASSWORD", &c.Stores.RedisPassword)
	envStr("SIEM_POSTGRES_DSN", &c.Stores.PostgresDSN)
	envStr("SIEM_JWT_SECRET", &c.Push.JWTSecret)
	envStr("SIEM_TLS_CERT_FILE", &c.Ingest.TLSCertFile)
	envStr("SIEM_TLS_KEY_FILE", &c.Ingest.TLSKeyFile)
	envInt("SIEM_BF_THRESHOLD", &c.Detection.BFThreshold)
	envInt("SIEM_BF_WINDOW_SECONDS", &c.Detection.BFWindowSeconds)
	envInt("SIEM_PS_THRESHOLD", &c.Detection.PSThreshold)
	envInt("SIEM_PS_WINDOW_SECONDS", &c.Detection.PSWindowSeconds)
	envInt("SIEM_SHARD_COUNT", &c.Detection.ShardCount)
	envBool("SIEM_FP_ENABLED", &c.Filter.FPEnabled)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
