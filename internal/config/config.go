package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Elevation Service - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Elevation  ElevationConfig  `yaml:"elevation"`
	GCP        GCPConfig        `yaml:"gcp"`
	Smtp       SmtpConfig       `yaml:"smtp"`
	Redis      RedisConfig      `yaml:"redis"`
	Workers    WorkersConfig    `yaml:"workers"`
	PubSub     PubSubConfig     `yaml:"pubsub"`
	CloudTasks CloudTasksConfig `yaml:"cloud_tasks"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// ElevationConfig holds the activation policy options.
type ElevationConfig struct {
	// Scope is the root resource for discovery queries, e.g.
	// organizations/1234 or projects/my-project.
	Scope string `yaml:"scope"`
	// Repository selects the discovery backend: "policy-analyzer" or
	// "asset-inventory".
	Repository string `yaml:"repository"`

	ActivationTimeoutMin       int    `yaml:"activation_timeout_min"`
	ActivationRequestTimeout   int    `yaml:"activation_request_timeout_min"`
	JustificationPattern       string `yaml:"justification_pattern"`
	JustificationHint          string `yaml:"justification_hint"`
	MinReviewers               int    `yaml:"min_reviewers"`
	MaxReviewers               int    `yaml:"max_reviewers"`
	MaxJitRolesPerSelfApproval int    `yaml:"max_jit_roles_per_self_approval"`
	AvailableProjectsQuery     string `yaml:"available_projects_query"`
	RequiredProjectTagPath     string `yaml:"required_project_tag_path"`
}

// GCPConfig identifies the service's own cloud identity and endpoints.
type GCPConfig struct {
	// SigningServiceAccount signs approval tokens via the IAM credentials API.
	SigningServiceAccount string `yaml:"signing_service_account"`
	// ActivationURL is the externally reachable approval endpoint; it is also
	// the token audience.
	ActivationURL string `yaml:"activation_url"`
	// CustomerID scopes directory group queries.
	CustomerID string `yaml:"customer_id"`
	// SmtpSecretPath optionally points at the SMTP password in Secret Manager.
	SmtpSecretPath string `yaml:"smtp_secret_path"`
}

type SmtpConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Sender   string `yaml:"sender"`
	Username string `yaml:"username"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type WorkersConfig struct {
	FanoutWorkers int `yaml:"fanout_workers"`
	FanoutQueue   int `yaml:"fanout_queue"`
}

// PubSubConfig for the notification topic.
type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
	Enabled   bool   `yaml:"enabled"`
}

// CloudTasksConfig for durable webhook notification delivery.
type CloudTasksConfig struct {
	ProjectID  string `yaml:"project_id"`
	LocationID string `yaml:"location_id"`
	QueueID    string `yaml:"queue_id"`
	TargetURL  string `yaml:"target_url"`
	Enabled    bool   `yaml:"enabled"`
}

// =============================================================================
// Singleton with environment overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("Config: failed to load config file (using defaults)", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		cfg.applyDefaults()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("ELEVATE_ENV", c.Server.Env)

	c.Elevation.Scope = getEnv("ELEVATE_SCOPE", c.Elevation.Scope)
	c.Elevation.Repository = getEnv("ELEVATE_REPOSITORY", c.Elevation.Repository)
	c.Elevation.ActivationTimeoutMin = getEnvInt("ELEVATE_ACTIVATION_TIMEOUT_MIN", c.Elevation.ActivationTimeoutMin)
	c.Elevation.ActivationRequestTimeout = getEnvInt("ELEVATE_ACTIVATION_REQUEST_TIMEOUT_MIN", c.Elevation.ActivationRequestTimeout)
	c.Elevation.JustificationPattern = getEnv("ELEVATE_JUSTIFICATION_PATTERN", c.Elevation.JustificationPattern)
	c.Elevation.JustificationHint = getEnv("ELEVATE_JUSTIFICATION_HINT", c.Elevation.JustificationHint)
	c.Elevation.MinReviewers = getEnvInt("ELEVATE_MIN_REVIEWERS", c.Elevation.MinReviewers)
	c.Elevation.MaxReviewers = getEnvInt("ELEVATE_MAX_REVIEWERS", c.Elevation.MaxReviewers)
	c.Elevation.MaxJitRolesPerSelfApproval = getEnvInt("ELEVATE_MAX_JIT_ROLES", c.Elevation.MaxJitRolesPerSelfApproval)
	c.Elevation.AvailableProjectsQuery = getEnv("ELEVATE_AVAILABLE_PROJECTS_QUERY", c.Elevation.AvailableProjectsQuery)
	c.Elevation.RequiredProjectTagPath = getEnv("ELEVATE_REQUIRED_PROJECT_TAG", c.Elevation.RequiredProjectTagPath)

	c.GCP.SigningServiceAccount = getEnv("ELEVATE_SIGNING_SERVICE_ACCOUNT", c.GCP.SigningServiceAccount)
	c.GCP.ActivationURL = getEnv("ELEVATE_ACTIVATION_URL", c.GCP.ActivationURL)
	c.GCP.CustomerID = getEnv("ELEVATE_DIRECTORY_CUSTOMER_ID", c.GCP.CustomerID)
	c.GCP.SmtpSecretPath = getEnv("ELEVATE_SMTP_SECRET_PATH", c.GCP.SmtpSecretPath)

	c.Smtp.Host = getEnv("ELEVATE_SMTP_HOST", c.Smtp.Host)
	c.Smtp.Sender = getEnv("ELEVATE_SMTP_SENDER", c.Smtp.Sender)
	c.Smtp.Username = getEnv("ELEVATE_SMTP_USERNAME", c.Smtp.Username)

	c.Redis.Enabled = getEnvBool("ELEVATE_REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("ELEVATE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("ELEVATE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("ELEVATE_REDIS_DB", c.Redis.DB)

	c.PubSub.Enabled = getEnvBool("ELEVATE_PUBSUB_ENABLED", c.PubSub.Enabled)
	c.PubSub.ProjectID = getEnv("ELEVATE_PUBSUB_PROJECT_ID", c.PubSub.ProjectID)
	c.PubSub.TopicID = getEnv("ELEVATE_PUBSUB_TOPIC_ID", c.PubSub.TopicID)

	c.CloudTasks.Enabled = getEnvBool("ELEVATE_CLOUD_TASKS_ENABLED", c.CloudTasks.Enabled)
	c.CloudTasks.ProjectID = getEnv("ELEVATE_CLOUD_TASKS_PROJECT_ID", c.CloudTasks.ProjectID)
	c.CloudTasks.LocationID = getEnv("ELEVATE_CLOUD_TASKS_LOCATION_ID", c.CloudTasks.LocationID)
	c.CloudTasks.QueueID = getEnv("ELEVATE_CLOUD_TASKS_QUEUE_ID", c.CloudTasks.QueueID)
	c.CloudTasks.TargetURL = getEnv("ELEVATE_CLOUD_TASKS_TARGET_URL", c.CloudTasks.TargetURL)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 30
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10
	}
	if c.Elevation.Repository == "" {
		c.Elevation.Repository = "policy-analyzer"
	}
	if c.Elevation.ActivationTimeoutMin == 0 {
		c.Elevation.ActivationTimeoutMin = 120
	}
	if c.Elevation.ActivationRequestTimeout == 0 {
		c.Elevation.ActivationRequestTimeout = 60
	}
	if c.Elevation.JustificationPattern == "" {
		c.Elevation.JustificationPattern = ".*"
	}
	if c.Elevation.JustificationHint == "" {
		c.Elevation.JustificationHint = "Business justification"
	}
	if c.Elevation.MinReviewers == 0 {
		c.Elevation.MinReviewers = 1
	}
	if c.Elevation.MaxReviewers == 0 {
		c.Elevation.MaxReviewers = 10
	}
	if c.Elevation.MaxJitRolesPerSelfApproval == 0 {
		c.Elevation.MaxJitRolesPerSelfApproval = 10
	}
	if c.Smtp.Port == 0 {
		c.Smtp.Port = 587
	}
	if c.Workers.FanoutWorkers == 0 {
		c.Workers.FanoutWorkers = 16
	}
	if c.Workers.FanoutQueue == 0 {
		c.Workers.FanoutQueue = 256
	}
}

// ActivationTimeout is the ceiling on a granted activation.
func (c *Config) ActivationTimeout() time.Duration {
	return time.Duration(c.Elevation.ActivationTimeoutMin) * time.Minute
}

// ActivationRequestTimeout returns the configured approval-token lifetime.
// Nothing in the service applies it: approval tokens expire when the
// requested activation window ends.
func (c *Config) ActivationRequestTimeout() time.Duration {
	return time.Duration(c.Elevation.ActivationRequestTimeout) * time.Minute
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("Config: ignoring non-integer env value", "key", key)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		slog.Warn("Config: ignoring non-boolean env value", "key", key)
	}
	return fallback
}
