package pipeline

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// DBTConfig locates the dbt project and selects the models built after a load.
type DBTConfig struct {
	Executable   string `yaml:"executable"`
	ProjectDir   string `yaml:"project_dir"`
	ProfilesDir  string `yaml:"profiles_dir"`
	Target       string `yaml:"target"`
	ManifestPath string `yaml:"manifest_path"`
	SelectTag    string `yaml:"select_tag"`
}

// ScheduleConfig is the daily trigger. Timezone also applies to logical
// dates and staging keys.
type ScheduleConfig struct {
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
}

// SlackConfig enables run notifications when both fields are set.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// MetricsConfig is where run metrics are pushed. An empty URL disables the push.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// ServerConfig is the HTTP surface of the daemon.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// LogConfig controls the zerolog logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the configuration of the pipeline.
type Config struct {
	ProjectID string `yaml:"project_id"`
	Dataset   string `yaml:"dataset"`
	Bucket    string `yaml:"bucket"`
	Location  string `yaml:"location"`
	Table     string `yaml:"table"`

	// DataDir is scanned for the newest source when SourcePath is empty.
	DataDir        string `yaml:"data_dir"`
	SourcePath     string `yaml:"source_path"`
	SourceEncoding string `yaml:"source_encoding"`
	LogicalName    string `yaml:"logical_name"`
	StagingPrefix  string `yaml:"staging_prefix"`

	LoadTimeout     time.Duration `yaml:"load_timeout"`
	CredentialPaths []string      `yaml:"credential_paths"`

	Schedule ScheduleConfig `yaml:"schedule"`
	DBT      DBTConfig      `yaml:"dbt"`
	Slack    SlackConfig    `yaml:"slack"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// LoadConfig reads the YAML file at path when path is not empty, applies
// environment overrides and fills defaults.
func LoadConfig(path string) (*Config, error) {
	return loadConfig(path, os.LookupEnv)
}

func loadConfig(path string, lookup func(string) (string, bool)) (*Config, error) {
	var c Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, xerrors.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := c.applyEnv(lookup); err != nil {
		return nil, err
	}
	c.applyDefaults()

	return &c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"GCP_PROJECT_ID":    &c.ProjectID,
		"BIGQUERY_DATASET":  &c.Dataset,
		"GCS_BUCKET":        &c.Bucket,
		"BIGQUERY_LOCATION": &c.Location,
		"BIGQUERY_TABLE":    &c.Table,
		"DATA_DIR":          &c.DataDir,
		"SOURCE_FILE":       &c.SourcePath,
		"SOURCE_ENCODING":   &c.SourceEncoding,
		"SCHEDULE_CRON":     &c.Schedule.Cron,
		"SCHEDULE_TIMEZONE": &c.Schedule.Timezone,
		"DBT_EXECUTABLE":    &c.DBT.Executable,
		"DBT_PROJECT_DIR":   &c.DBT.ProjectDir,
		"DBT_PROFILES_DIR":  &c.DBT.ProfilesDir,
		"DBT_TARGET":        &c.DBT.Target,
		"DBT_MANIFEST_PATH": &c.DBT.ManifestPath,
		"DBT_SELECT_TAG":    &c.DBT.SelectTag,
		"SLACK_TOKEN":       &c.Slack.Token,
		"SLACK_CHANNEL":     &c.Slack.Channel,
		"PUSHGATEWAY_URL":   &c.Metrics.PushgatewayURL,
		"LISTEN_ADDRESS":    &c.Server.ListenAddress,
		"LOG_LEVEL":         &c.Log.Level,
	}
	for k, p := range strs {
		if v, ok := lookup(k); ok && v != "" {
			*p = v
		}
	}

	if v, ok := lookup("LOAD_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return xerrors.Errorf("invalid LOAD_TIMEOUT %q: %w", v, err)
		}
		c.LoadTimeout = d
	}

	if v, ok := lookup("LOG_PRETTY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return xerrors.Errorf("invalid LOG_PRETTY %q: %w", v, err)
		}
		c.Log.Pretty = b
	}

	if v, ok := lookup("CREDENTIAL_PATHS"); ok && v != "" {
		c.CredentialPaths = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.CredentialPaths = append(c.CredentialPaths, p)
			}
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.ProjectID == "" {
		c.ProjectID = "analytics-platform"
	}
	if c.Dataset == "" {
		c.Dataset = "analytics_data"
	}
	if c.Bucket == "" {
		c.Bucket = "analytics-ingestion"
	}
	if c.Location == "" {
		c.Location = "asia-southeast1"
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.DataDir == "" {
		c.DataDir = "/opt/analytics/data"
	}
	if c.LogicalName == "" {
		c.LogicalName = "user_events"
	}
	if c.StagingPrefix == "" {
		c.StagingPrefix = defaultStagingPrefix
	}
	if c.LoadTimeout == 0 {
		c.LoadTimeout = 30 * time.Minute
	}
	if len(c.CredentialPaths) == 0 {
		c.CredentialPaths = DefaultCredentialPaths()
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = DefaultCron
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "UTC"
	}
	if c.DBT.Executable == "" {
		c.DBT.Executable = "dbt"
	}
	if c.DBT.ProjectDir == "" {
		c.DBT.ProjectDir = "/opt/analytics/dbt"
	}
	if c.DBT.ProfilesDir == "" {
		c.DBT.ProfilesDir = c.DBT.ProjectDir
	}
	if c.DBT.Target == "" {
		c.DBT.Target = "dev"
	}
	if c.DBT.ManifestPath == "" {
		c.DBT.ManifestPath = filepath.Join(c.DBT.ProjectDir, "target", "manifest.json")
	}
	if c.DBT.SelectTag == "" {
		c.DBT.SelectTag = "dagster"
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "analytics_pipeline"
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
