package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderConfig describes one HTTP signal agent.
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Path    string `yaml:"path"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
		RateLimit       struct {
			Enabled      bool    `yaml:"enabled" default:"true"`
			Capacity     float64 `yaml:"capacity" default:"30"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"5"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Log struct {
		Level     string `yaml:"level" default:"info"`
		Format    string `yaml:"format" default:"json"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic" default:"clarity.logs"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Metrics struct {
		Enabled       bool          `yaml:"enabled" default:"true"`
		Path          string        `yaml:"path" default:"/metrics"`
		SlowThreshold time.Duration `yaml:"slow_threshold" default:"2s"`
	} `yaml:"metrics"`
	Fusion struct {
		WeightFloor     float64 `yaml:"weight_floor" default:"0.05"`
		GuardrailLower  float64 `yaml:"guardrail_lower" default:"0.5"`
		GuardrailUpper  float64 `yaml:"guardrail_upper" default:"1.5"`
		MaxSummaryLines int     `yaml:"max_summary_lines" default:"5"`
		DefaultBaseline float64 `yaml:"default_baseline" default:"42"`
	} `yaml:"fusion"`
	Cache struct {
		Backend        string        `yaml:"backend" default:"memory"` // memory, redis, layered
		TTL            time.Duration `yaml:"ttl" default:"60s"`
		StaleRetention time.Duration `yaml:"stale_retention" default:"10m"`
		ComputeTimeout time.Duration `yaml:"compute_timeout" default:"10s"`
		SweepInterval  time.Duration `yaml:"sweep_interval" default:"1m"`
		MemoryMaxSize  int           `yaml:"memory_max_size" default:"1000"`
	} `yaml:"cache"`
	Redis struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Prefix   string `yaml:"prefix" default:"clarity"`
	} `yaml:"redis"`
	Providers struct {
		Timeout   time.Duration  `yaml:"timeout" default:"8s"`
		Retries   int            `yaml:"retries" default:"2"`
		RateLimit float64        `yaml:"rate_limit" default:"10"` // outbound requests per second per provider
		Burst     int            `yaml:"burst" default:"5"`
		Weather   ProviderConfig `yaml:"weather"`
		Transit   ProviderConfig `yaml:"transit"`
		Traffic   ProviderConfig `yaml:"traffic"`
	} `yaml:"providers"`
	Kafka struct {
		Enabled       bool     `yaml:"enabled"`
		Brokers       []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		ForecastTopic string   `yaml:"forecast_topic" default:"clarity.forecasts"`
		EventsTopic   string   `yaml:"events_topic" default:"clarity.events"`
		RequiredAcks  int      `yaml:"required_acks" default:"-1"`
		Compression   string   `yaml:"compression" default:"snappy"`
		Producer      struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"clarity-events"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"clarity.events.dlq"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"clarity"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		AsyncInsert  bool          `yaml:"async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		Table        string        `yaml:"table" default:"forecasts"`
	} `yaml:"clickhouse"`
	Events struct {
		Enabled        bool          `yaml:"enabled" default:"true"`
		MaxPerLocation int           `yaml:"max_per_location" default:"100"`
		Retention      time.Duration `yaml:"retention" default:"168h"`
		Timezone       string        `yaml:"timezone" default:"UTC"` // zone of forecast dates and hours
		Queue          struct {
			Enabled    bool          `yaml:"enabled"`
			Key        string        `yaml:"key" default:"clarity:queue:events"`
			Workers    int           `yaml:"workers" default:"2"`
			RetryLimit int           `yaml:"retry_limit" default:"3"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
		} `yaml:"queue"`
	} `yaml:"events"`
	Stream struct {
		Enabled      bool          `yaml:"enabled" default:"true"`
		Path         string        `yaml:"path" default:"/ws/forecasts"`
		SendBuffer   int           `yaml:"send_buffer" default:"32"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
		PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"stream"`
	Publish struct {
		BufferSize int           `yaml:"buffer_size" default:"256"`
		Throttle   time.Duration `yaml:"throttle" default:"0s"` // min gap between records of one location
		RetryMax   int           `yaml:"retry_max" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"200ms"`
	} `yaml:"publish"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func read(path string) (*Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (if present), then the YAML file, then applies
// environment overrides before validating.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	boolean := func(key string, dst *bool) error {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
		return nil
	}

	str("CLARITY_ENV", &c.Environment)
	str("CLARITY_LOG_LEVEL", &c.Log.Level)
	str("CLARITY_CACHE_BACKEND", &c.Cache.Backend)
	if v, ok := lookup("CLARITY_PORT"); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CLARITY_PORT: %w", err)
		}
		c.Server.Port = p
	}
	if v, ok := lookup("CLARITY_CACHE_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CLARITY_CACHE_TTL: %w", err)
		}
		c.Cache.TTL = d
	}
	if v, ok := lookup("CLARITY_DEFAULT_BASELINE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CLARITY_DEFAULT_BASELINE: %w", err)
		}
		c.Fusion.DefaultBaseline = f
	}

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	if err := boolean("KAFKA_ENABLED", &c.Kafka.Enabled); err != nil {
		return err
	}
	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	if err := boolean("CLICKHOUSE_ENABLED", &c.ClickHouse.Enabled); err != nil {
		return err
	}

	for key, p := range map[string]*ProviderConfig{
		"WEATHER_AGENT_URL": &c.Providers.Weather,
		"TRANSIT_AGENT_URL": &c.Providers.Transit,
		"TRAFFIC_AGENT_URL": &c.Providers.Traffic,
	} {
		if v, ok := lookup(key); ok && v != "" {
			p.URL = strings.TrimRight(v, "/")
			p.Enabled = true
		}
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Fusion.WeightFloor <= 0 || c.Fusion.WeightFloor > 1 {
		return fmt.Errorf("fusion.weight_floor must be in (0,1], got %v", c.Fusion.WeightFloor)
	}
	if c.Fusion.GuardrailLower < 0 || c.Fusion.GuardrailUpper < 0 {
		return fmt.Errorf("fusion guardrail multipliers must be >= 0")
	}
	if c.Fusion.DefaultBaseline < 0 {
		return fmt.Errorf("fusion.default_baseline must be >= 0")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	switch c.Cache.Backend {
	case "memory", "redis", "layered":
	default:
		return fmt.Errorf("cache.backend must be 'memory', 'redis' or 'layered', got '%s'", c.Cache.Backend)
	}
	for name, p := range map[string]ProviderConfig{
		"weather": c.Providers.Weather,
		"transit": c.Providers.Transit,
		"traffic": c.Providers.Traffic,
	} {
		if p.Enabled && p.URL == "" {
			return fmt.Errorf("providers.%s.url is required when enabled", name)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if _, err := time.LoadLocation(c.Events.Timezone); err != nil {
		return fmt.Errorf("events.timezone: %w", err)
	}
	if c.Events.Queue.Enabled && c.Cache.Backend == "memory" {
		return fmt.Errorf("events.queue requires a redis or layered cache backend")
	}
	if c.Log.Collector.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("log.collector requires kafka")
	}
	return nil
}
