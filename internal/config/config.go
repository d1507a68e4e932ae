package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration required by the API process.
// Values come from an optional YAML file (CONFIG_FILE) overlaid by env.
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig      `yaml:"app"`
	DB       DBConfig       `yaml:"db"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	KPI      KPIConfig      `yaml:"kpi"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type AppConfig struct {
	Env  string `yaml:"env"`
	Port int    `yaml:"port"`
}

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `yaml:"sslmode"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PipelineCap bounds concurrent pipeline runs across all replicas.
	// Zero disables the distributed cap (local worker bound still applies).
	PipelineCap int `yaml:"pipeline_cap"`
}

type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	JWTIssuer       string        `yaml:"jwt_issuer"`
	JWTAudience     string        `yaml:"jwt_audience"`
	AccessTokenTTL  time.Duration `yaml:"access_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_ttl"`

	// OperatorKey is exchanged for an operator token pair at /v1/auth/token.
	OperatorKey string `yaml:"operator_key"`
}

type WebhookConfig struct {
	// Secret is the shared HMAC-SHA256 key for X-GoTo-Signature.
	Secret string `yaml:"secret"`
}

type OpenAIConfig struct {
	APIKey             string  `yaml:"api_key"`
	BaseURL            string  `yaml:"base_url"`
	Model              string  `yaml:"model"`
	TranscriptionModel string  `yaml:"transcription_model"`
	Temperature        float64 `yaml:"temperature"`
}

type PipelineConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	ClaimTTL     time.Duration `yaml:"claim_ttl"`

	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`

	DownloadTimeout   time.Duration `yaml:"download_timeout"`
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`
	AnalyzeTimeout    time.Duration `yaml:"analyze_timeout"`
	NotifyTimeout     time.Duration `yaml:"notify_timeout"`

	TempDir        string `yaml:"temp_dir"`
	MaxAudioSizeMB int    `yaml:"max_audio_size_mb"`
}

type KPIConfig struct {
	// Timezone is an IANA name; all period boundaries are computed in it.
	Timezone string `yaml:"timezone"`
	// WeekStart is a weekday name, e.g. "monday".
	WeekStart string `yaml:"week_start"`
	// Schedule is a seconds-enabled cron spec. Empty disables the scheduler.
	Schedule string `yaml:"schedule"`
}

type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`

	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUser     string   `yaml:"smtp_user"`
	SMTPPassword string   `yaml:"smtp_password"`
	EmailFrom    string   `yaml:"email_from"`
	EmailTo      []string `yaml:"email_to"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// Defaults returns the baseline configuration before file and env overlays.
func Defaults() Config {
	return Config{
		App: AppConfig{Env: "local", Port: 8080},
		DB:  DBConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "call_insights"},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		OpenAI: OpenAIConfig{
			Model:              "gpt-4o",
			TranscriptionModel: "whisper-1",
			Temperature:        0.3,
		},
		Pipeline: PipelineConfig{
			Workers:           4,
			PollInterval:      5 * time.Second,
			BatchSize:         16,
			ClaimTTL:          15 * time.Minute,
			MaxAttempts:       3,
			BaseDelay:         2 * time.Second,
			Multiplier:        2,
			MaxDelay:          30 * time.Second,
			DownloadTimeout:   2 * time.Minute,
			TranscribeTimeout: 5 * time.Minute,
			AnalyzeTimeout:    2 * time.Minute,
			NotifyTimeout:     30 * time.Second,
			TempDir:           os.TempDir(),
			MaxAudioSizeMB:    25,
		},
		KPI: KPIConfig{
			Timezone:  "UTC",
			WeekStart: "monday",
			Schedule:  "0 */15 * * * *",
		},
		Notify: NotifyConfig{
			SMTPPort:   587,
			KafkaTopic: "call.processed",
		},
	}
}

func Load() (Config, error) {
	c := Defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read CONFIG_FILE: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("parse CONFIG_FILE: %w", err)
		}
	}

	var parseErrs []error

	envString("APP_ENV", &c.App.Env)
	parseErrs = envInt(parseErrs, "APP_PORT", &c.App.Port)

	envString("DB_HOST", &c.DB.Host)
	parseErrs = envInt(parseErrs, "DB_PORT", &c.DB.Port)
	envString("DB_USER", &c.DB.User)
	envSecret("DB_PASSWORD", &c.DB.Password)
	envString("DB_NAME", &c.DB.Name)
	envString("DB_SSLMODE", &c.DB.SSLMode)

	envString("REDIS_HOST", &c.Redis.Host)
	parseErrs = envInt(parseErrs, "REDIS_PORT", &c.Redis.Port)
	parseErrs = envInt(parseErrs, "REDIS_PIPELINE_CAP", &c.Redis.PipelineCap)

	envSecret("JWT_SECRET", &c.Auth.JWTSecret)
	envString("JWT_ISSUER", &c.Auth.JWTIssuer)
	envString("JWT_AUDIENCE", &c.Auth.JWTAudience)
	// Duration env vars are optional; defaults applied in Validate() based on env.
	parseErrs = envDuration(parseErrs, "JWT_ACCESS_TTL", &c.Auth.AccessTokenTTL)
	parseErrs = envDuration(parseErrs, "JWT_REFRESH_TTL", &c.Auth.RefreshTokenTTL)
	envSecret("OPERATOR_KEY", &c.Auth.OperatorKey)

	envSecret("GOTO_WEBHOOK_SECRET", &c.Webhook.Secret)

	envSecret("OPENAI_API_KEY", &c.OpenAI.APIKey)
	envString("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	envString("OPENAI_MODEL", &c.OpenAI.Model)
	envString("WHISPER_MODEL", &c.OpenAI.TranscriptionModel)
	parseErrs = envFloat(parseErrs, "OPENAI_TEMPERATURE", &c.OpenAI.Temperature)

	parseErrs = envInt(parseErrs, "PIPELINE_WORKERS", &c.Pipeline.Workers)
	parseErrs = envDuration(parseErrs, "PIPELINE_POLL_INTERVAL", &c.Pipeline.PollInterval)
	parseErrs = envInt(parseErrs, "PIPELINE_BATCH_SIZE", &c.Pipeline.BatchSize)
	parseErrs = envDuration(parseErrs, "TASK_CLAIM_TTL", &c.Pipeline.ClaimTTL)
	parseErrs = envInt(parseErrs, "RETRY_MAX_ATTEMPTS", &c.Pipeline.MaxAttempts)
	parseErrs = envDuration(parseErrs, "RETRY_BASE_DELAY", &c.Pipeline.BaseDelay)
	parseErrs = envFloat(parseErrs, "RETRY_MULTIPLIER", &c.Pipeline.Multiplier)
	parseErrs = envDuration(parseErrs, "RETRY_MAX_DELAY", &c.Pipeline.MaxDelay)
	parseErrs = envDuration(parseErrs, "DOWNLOAD_TIMEOUT", &c.Pipeline.DownloadTimeout)
	parseErrs = envDuration(parseErrs, "TRANSCRIBE_TIMEOUT", &c.Pipeline.TranscribeTimeout)
	parseErrs = envDuration(parseErrs, "ANALYZE_TIMEOUT", &c.Pipeline.AnalyzeTimeout)
	parseErrs = envDuration(parseErrs, "NOTIFY_TIMEOUT", &c.Pipeline.NotifyTimeout)
	envString("TEMP_DIR", &c.Pipeline.TempDir)
	parseErrs = envInt(parseErrs, "MAX_AUDIO_SIZE_MB", &c.Pipeline.MaxAudioSizeMB)

	envString("KPI_TIMEZONE", &c.KPI.Timezone)
	envString("KPI_WEEK_START", &c.KPI.WeekStart)
	envString("KPI_SCHEDULE", &c.KPI.Schedule)

	envString("SLACK_WEBHOOK_URL", &c.Notify.SlackWebhookURL)
	envString("SMTP_HOST", &c.Notify.SMTPHost)
	parseErrs = envInt(parseErrs, "SMTP_PORT", &c.Notify.SMTPPort)
	envString("SMTP_USER", &c.Notify.SMTPUser)
	envSecret("SMTP_PASSWORD", &c.Notify.SMTPPassword)
	envString("EMAIL_FROM", &c.Notify.EmailFrom)
	envList("EMAIL_TO", &c.Notify.EmailTo)
	envList("KAFKA_BROKERS", &c.Notify.KafkaBrokers)
	envString("KAFKA_TOPIC", &c.Notify.KafkaTopic)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" && c.IsProduction() {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.PipelineCap < 0 {
		errs = append(errs, fmt.Errorf("REDIS_PIPELINE_CAP must be >= 0, got %d", c.Redis.PipelineCap))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL > 0 && c.Auth.RefreshTokenTTL > 0 && c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Webhook.Secret == "" {
		errs = append(errs, errors.New("GOTO_WEBHOOK_SECRET is required"))
	}
	if c.OpenAI.APIKey == "" && c.IsProduction() {
		errs = append(errs, errors.New("OPENAI_API_KEY is required in production"))
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		errs = append(errs, fmt.Errorf("OPENAI_TEMPERATURE must be within [0,2], got %v", c.OpenAI.Temperature))
	}

	p := c.Pipeline
	if p.Workers <= 0 {
		errs = append(errs, fmt.Errorf("PIPELINE_WORKERS must be > 0, got %d", p.Workers))
	}
	if p.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be > 0, got %d", p.MaxAttempts))
	}
	if p.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MULTIPLIER must be >= 1, got %v", p.Multiplier))
	}
	if p.MaxAudioSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("MAX_AUDIO_SIZE_MB must be > 0, got %d", p.MaxAudioSizeMB))
	}

	if _, err := time.LoadLocation(c.KPI.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("KPI_TIMEZONE is not a valid IANA zone: %q", c.KPI.Timezone))
	}
	if _, err := c.WeekStart(); err != nil {
		errs = append(errs, err)
	}

	if c.Notify.SMTPHost != "" && (c.Notify.EmailFrom == "" || len(c.Notify.EmailTo) == 0) {
		errs = append(errs, errors.New("EMAIL_FROM and EMAIL_TO are required when SMTP_HOST is set"))
	}
	if len(c.Notify.KafkaBrokers) > 0 && c.Notify.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}

	return joinErrors(errs)
}

// applyDefaults fills optional values that Validate accepts as empty.
func (c *Config) applyDefaults() {
	if c.DB.SSLMode == "" {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Location resolves KPI.Timezone. Validate guarantees it loads.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.KPI.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WeekStart resolves KPI.WeekStart.
func (c Config) WeekStart() (time.Weekday, error) {
	d, ok := ParseWeekday(c.KPI.WeekStart)
	if !ok {
		return 0, fmt.Errorf("KPI_WEEK_START must be a weekday name, got %q", c.KPI.WeekStart)
	}
	return d, nil
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// envSecret does not trim; secrets may carry significant whitespace.
func envSecret(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envList(key string, dst *[]string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func envInt(errs []error, key string, dst *int) []error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	*dst = n
	return errs
}

func envFloat(errs []error, key string, dst *float64) []error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return errs
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return append(errs, fmt.Errorf("%s must be a number, got %q", key, v))
	}
	*dst = f
	return errs
}

func envDuration(errs []error, key string, dst *time.Duration) []error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	*dst = d
	return errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
