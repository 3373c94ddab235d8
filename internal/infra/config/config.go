package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	MaxUploadBytesMb int64 `yaml:"max_upload_mb"`

	Worker    Worker    `yaml:"worker"`
	Storage   Storage   `yaml:"storage"`
	Store     Store     `yaml:"store"`
	Splitter  Splitter  `yaml:"splitter"`
	Webhook   Webhook   `yaml:"webhook"`
	Retention Retention `yaml:"retention"`

	Redis Redis `yaml:"redis"`
	MinIO MinIO `yaml:"minio"`
}

type Worker struct {
	PoolSize     int           `yaml:"pool_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
}

// Storage selects the file backend for staged uploads and results.
type Storage struct {
	Backend   string `yaml:"backend"` // local | minio
	UploadDir string `yaml:"upload_dir"`
	OutputDir string `yaml:"output_dir"`
}

// Store selects the job record backend. The file backend persists one
// JSON document per job under state_dir and is the default.
type Store struct {
	Backend  string `yaml:"backend"` // file | redis
	StateDir string `yaml:"state_dir"`
}

type Splitter struct {
	Command   string   `yaml:"command"`
	ExtraArgs []string `yaml:"extra_args"`
}

type Webhook struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Retention struct {
	Enabled  bool          `yaml:"enabled"`
	MaxAge   time.Duration `yaml:"max_age"`
	Interval time.Duration `yaml:"interval"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
}

func MustLoad(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("config: cannot read file %q: %v", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("config: cannot unmarshal yaml: %v", err)
	}

	if cfg.Addr == "" {
		log.Fatalf("config: addr is empty")
	}
	if cfg.Storage.UploadDir == "" {
		log.Fatalf("config: storage.upload_dir is empty")
	}
	if cfg.Storage.OutputDir == "" {
		log.Fatalf("config: storage.output_dir is empty")
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "file"
	}
	if cfg.Store.Backend == "file" && cfg.Store.StateDir == "" {
		log.Fatalf("config: store.state_dir is empty")
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Splitter.Command == "" {
		log.Fatalf("config: splitter.command is empty")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytesMb <= 0 {
		cfg.MaxUploadBytesMb = 200
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 4
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = 500 * time.Millisecond
	}
	if cfg.Worker.JobTimeout <= 0 {
		cfg.Worker.JobTimeout = 5 * time.Minute
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = 3
	}
	if cfg.Webhook.InitialBackoff <= 0 {
		cfg.Webhook.InitialBackoff = time.Second
	}
	if cfg.Webhook.MaxBackoff <= 0 {
		cfg.Webhook.MaxBackoff = 30 * time.Second
	}
	if cfg.Webhook.RequestTimeout <= 0 {
		cfg.Webhook.RequestTimeout = 10 * time.Second
	}
	if cfg.Retention.MaxAge <= 0 {
		cfg.Retention.MaxAge = time.Hour
	}
	if cfg.Retention.Interval <= 0 {
		cfg.Retention.Interval = 10 * time.Minute
	}

	return &cfg
}
