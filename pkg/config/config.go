package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"KSHPull/internal/domain/models"
	"KSHPull/internal/services/aggregate"
	"KSHPull/internal/services/forecast"
	"KSHPull/internal/services/tidy"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"2m"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"5s"`
		// ForecastRPS limits forecast triggers per client.
		ForecastRPS   float64 `yaml:"forecast_rps" default:"1"`
		ForecastBurst int     `yaml:"forecast_burst" default:"3"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logging struct {
		Level     string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format    string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic" default:"kshpull.logs"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"logging"`
	Backend struct {
		Type         string        `yaml:"type" default:"none"`
		BatchSize    int           `yaml:"batch_size" default:"500" validate:"gt=0"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"kshpull.tidy"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"200ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"500"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id" default:"kshpull-sink"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"1000"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"kshpull.tidy.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"ksh"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Prefix   string `yaml:"prefix" default:"kshpull:"`
	} `yaml:"redis"`
	Cache struct {
		MemoryMaxSize int           `yaml:"memory_max_size" default:"256"`
		MemoryTTL     time.Duration `yaml:"memory_ttl" default:"10m"`
		TableTTL      time.Duration `yaml:"table_ttl" default:"6h"`
		ReportTTL     time.Duration `yaml:"report_ttl" default:"24h"`
	} `yaml:"cache"`
	Loader struct {
		Timeout       time.Duration `yaml:"timeout" default:"30s"`
		RatePerSecond float64       `yaml:"rate_per_second" default:"2"`
		Burst         int           `yaml:"burst" default:"1"`
		UserAgent     string        `yaml:"user_agent" default:"KSHPull/1.0"`
		Encoding      string        `yaml:"encoding"`
	} `yaml:"loader"`
	Analytics struct {
		ServiceURL string        `yaml:"service_url"`
		Timeout    time.Duration `yaml:"timeout" default:"10s"`
	} `yaml:"analytics"`
	Forecast struct {
		Workers    int           `yaml:"workers"`
		FitTimeout time.Duration `yaml:"fit_timeout" default:"30s"`
		Queue      string        `yaml:"queue" default:"forecasts"`
		Consumers  int           `yaml:"consumers" default:"1"`
		// ProduceOnly enqueues runs for another instance to execute.
		ProduceOnly bool          `yaml:"produce_only"`
		RetryLimit  int           `yaml:"retry_limit" default:"2"`
		RetryDelay  time.Duration `yaml:"retry_delay" default:"30s"`
		// MaxInFlight bounds async runs executed in-process when Redis is off.
		MaxInFlight int `yaml:"max_in_flight" default:"2"`
	} `yaml:"forecast"`
	Export struct {
		Enabled bool   `yaml:"enabled"`
		Dir     string `yaml:"dir" default:"out"`
	} `yaml:"export"`
	// Schedule re-ingests every dataset, then runs every job, on a fixed period.
	Schedule struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval" default:"24h"`
		SkipJobs bool          `yaml:"skip_jobs"`
	} `yaml:"schedule"`
	// DatasetsDir holds extra *.yaml files, each with a datasets and/or jobs list.
	DatasetsDir string          `yaml:"datasets_dir"`
	Datasets    []DatasetConfig `yaml:"datasets" validate:"dive"`
	Jobs        []JobConfig     `yaml:"jobs" validate:"dive"`
}

// SourceConfig says where a dataset's table is read from.
type SourceConfig struct {
	URL        string `yaml:"url"`
	Path       string `yaml:"path"`
	Format     string `yaml:"format" default:"html" validate:"oneof=html xlsx"`
	Encoding   string `yaml:"encoding"`
	TableIndex int    `yaml:"table_index" validate:"gte=0"`
	Sheet      string `yaml:"sheet"`
	HeaderRows int    `yaml:"header_rows" default:"1" validate:"gte=1"`
}

type DatasetConfig struct {
	Source SourceConfig `yaml:"source"`
	Tidy   tidy.Config  `yaml:"tidy"`
}

// TableSource converts the loader settings into the domain descriptor.
func (d DatasetConfig) TableSource() models.TableSource {
	return models.TableSource{
		Dataset:    d.Tidy.Name,
		URL:        d.Source.URL,
		Path:       d.Source.Path,
		Format:     d.Source.Format,
		Encoding:   d.Source.Encoding,
		TableIndex: d.Source.TableIndex,
		Sheet:      d.Source.Sheet,
		HeaderRows: d.Source.HeaderRows,
	}
}

type JobConfig struct {
	Name      string             `yaml:"name" validate:"required"`
	Dataset   string             `yaml:"dataset" validate:"required"`
	Aggregate aggregate.Request  `yaml:"aggregate"`
	Model     forecast.ModelSpec `yaml:"model"`
	Horizon   int                `yaml:"horizon" default:"5" validate:"gte=1,lte=120"`
}

var validate = validator.New()

// Load reads a YAML configuration file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if c.DatasetsDir != "" {
		dir := c.DatasetsDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(filepath.Dir(path), dir)
		}
		if err := c.include(dir); err != nil {
			return nil, err
		}
	}

	if err := c.finish(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Parse builds a config from YAML bytes, without includes.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.finish(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) finish() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

func (c *Config) include(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		var part struct {
			Datasets []DatasetConfig `yaml:"datasets"`
			Jobs     []JobConfig     `yaml:"jobs"`
		}
		if err := yaml.Unmarshal(b, &part); err != nil {
			return fmt.Errorf("parse %s: %w", f, err)
		}
		c.Datasets = append(c.Datasets, part.Datasets...)
		c.Jobs = append(c.Jobs, part.Jobs...)
	}
	return nil
}

// envOverrides are read from KSHPULL_* variables. Only set variables apply.
type envOverrides struct {
	Environment    string   `envconfig:"ENVIRONMENT"`
	Backend        string   `envconfig:"BACKEND"`
	LogLevel       string   `envconfig:"LOG_LEVEL"`
	Port           int      `envconfig:"PORT"`
	KafkaBrokers   []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic     string   `envconfig:"KAFKA_TOPIC"`
	ClickHouseHost string   `envconfig:"CLICKHOUSE_HOST"`
	ClickHousePass string   `envconfig:"CLICKHOUSE_PASSWORD"`
	RedisAddr      string   `envconfig:"REDIS_ADDR"`
	RedisPassword  string   `envconfig:"REDIS_PASSWORD"`
	AnalyticsURL   string   `envconfig:"ANALYTICS_URL"`
	ExportDir      string   `envconfig:"EXPORT_DIR"`
}

// LoadWithEnv loads config from YAML and overrides it with KSHPULL_* variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	var env envOverrides
	if err := envconfig.Process("KSHPULL", &env); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	c.applyEnv(env)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(env envOverrides) {
	if env.Environment != "" {
		c.Environment = env.Environment
	}
	if env.Backend != "" {
		c.Backend.Type = env.Backend
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.Port != 0 {
		c.Server.Port = env.Port
	}
	if len(env.KafkaBrokers) > 0 {
		c.Kafka.Brokers = env.KafkaBrokers
	}
	if env.KafkaTopic != "" {
		c.Kafka.Topic = env.KafkaTopic
	}
	if env.ClickHouseHost != "" {
		c.ClickHouse.Host = env.ClickHouseHost
	}
	if env.ClickHousePass != "" {
		c.ClickHouse.Password = env.ClickHousePass
	}
	if env.RedisAddr != "" {
		c.Redis.Addr = env.RedisAddr
		c.Redis.Enabled = true
	}
	if env.RedisPassword != "" {
		c.Redis.Password = env.RedisPassword
	}
	if env.AnalyticsURL != "" {
		c.Analytics.ServiceURL = env.AnalyticsURL
	}
	if env.ExportDir != "" {
		c.Export.Dir = env.ExportDir
	}
}

// Validate checks cross-field constraints the struct tags cannot express.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers cannot be empty for the kafka backend")
		}
	case "clickhouse", "none":
	default:
		return fmt.Errorf("backend.type must be 'kafka', 'clickhouse' or 'none', got '%s'", c.Backend.Type)
	}
	if c.Kafka.Consumer.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.consumer needs kafka.brokers")
	}
	if c.Logging.Collector.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("logging.collector needs kafka.brokers")
	}

	names := make(map[string]struct{}, len(c.Datasets))
	for i := range c.Datasets {
		d := &c.Datasets[i]
		if d.Source.URL == "" && d.Source.Path == "" {
			return fmt.Errorf("dataset %s: source.url or source.path is required", d.Tidy.Name)
		}
		if err := d.Tidy.Validate(); err != nil {
			return err
		}
		if _, dup := names[d.Tidy.Name]; dup {
			return fmt.Errorf("duplicate dataset '%s'", d.Tidy.Name)
		}
		names[d.Tidy.Name] = struct{}{}
	}

	jobs := make(map[string]struct{}, len(c.Jobs))
	for _, j := range c.Jobs {
		if _, ok := names[j.Dataset]; !ok {
			return fmt.Errorf("job %s: %w '%s'", j.Name, models.ErrUnknownDataset, j.Dataset)
		}
		if _, dup := jobs[j.Name]; dup {
			return fmt.Errorf("duplicate job '%s'", j.Name)
		}
		jobs[j.Name] = struct{}{}
		if err := j.Aggregate.Validate(); err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		if err := j.Model.WithDefaults().Validate(); err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		if j.Model.Strategy == forecast.StrategyRemote && c.Analytics.ServiceURL == "" {
			return fmt.Errorf("job %s: remote strategy needs analytics.service_url", j.Name)
		}
	}
	return nil
}

// Dataset looks a dataset up by name.
func (c *Config) Dataset(name string) (DatasetConfig, bool) {
	for _, d := range c.Datasets {
		if strings.EqualFold(d.Tidy.Name, name) {
			return d, true
		}
	}
	return DatasetConfig{}, false
}

// Job looks a job up by name.
func (c *Config) Job(name string) (JobConfig, bool) {
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobConfig{}, false
}
