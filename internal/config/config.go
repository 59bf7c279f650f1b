package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "EDU"

// Config represents the complete application configuration
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline" envconfig:"PIPELINE"`
	Source    SourceConfig    `yaml:"source" envconfig:"SOURCE"`
	Staging   StagingConfig   `yaml:"staging" envconfig:"STAGING"`
	Warehouse WarehouseConfig `yaml:"warehouse" envconfig:"WAREHOUSE"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Schedule  ScheduleConfig  `yaml:"schedule" envconfig:"SCHEDULE"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
}

// PipelineConfig holds the inputs of the transformation core.
type PipelineConfig struct {
	Years             []int    `yaml:"years" envconfig:"YEARS" default:"2022,2021,2019,2018" validate:"min=1,dive,gte=2000,lte=2099"`
	Subjects          []string `yaml:"subjects" envconfig:"SUBJECTS" default:"ELA,Math,Science" validate:"min=1,dive,required"`
	TableTemplate     string   `yaml:"table_template" envconfig:"TABLE_TEMPLATE" default:"Annual EM %s" validate:"required"`
	EntityMarkers     []string `yaml:"entity_markers" envconfig:"ENTITY_MARKERS" default:"Charter Schools,County,All Public Schools" validate:"min=1,dive,required"`
	Subgroup          string   `yaml:"subgroup" envconfig:"SUBGROUP" default:"All Students" validate:"required"`
	AssessmentCodes   []string `yaml:"assessment_codes" envconfig:"ASSESSMENT_CODES" default:"ELA8,MATH8,Science8" validate:"min=1,dive,required"`
	OldestSemester    string   `yaml:"oldest_semester" envconfig:"OLDEST_SEMESTER" default:"2018S1" validate:"required"`
	NewestSemester    string   `yaml:"newest_semester" envconfig:"NEWEST_SEMESTER" default:"2022S1" validate:"required"`
	ChangeAssessments []string `yaml:"change_assessments" envconfig:"CHANGE_ASSESSMENTS"`
	SemesterScope     string   `yaml:"semester_scope" envconfig:"SEMESTER_SCOPE" default:"table" validate:"oneof=table batch"`
}

// SourceConfig configures the archive fetch and legacy-database export.
type SourceConfig struct {
	URLTemplate       string        `yaml:"url_template" envconfig:"URL_TEMPLATE" default:"https://data.nysed.gov/files/essa/%02d-%02d/SRC20%02d.zip" validate:"required"`
	ExportCommand     string        `yaml:"export_command" envconfig:"EXPORT_COMMAND" default:"mdb-export" validate:"required"`
	DatabaseExtension string        `yaml:"database_extension" envconfig:"DATABASE_EXTENSION" default:".accdb" validate:"required"`
	MaxAttempts       int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS" default:"10" validate:"gte=1"`
	InitialDelay      time.Duration `yaml:"initial_delay" envconfig:"INITIAL_DELAY" default:"2s"`
	MaxDelay          time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY" default:"1m"`
	RequestsPerSecond float64       `yaml:"requests_per_second" envconfig:"REQUESTS_PER_SECOND" default:"1" validate:"gt=0"`
	HTTPTimeout       time.Duration `yaml:"http_timeout" envconfig:"HTTP_TIMEOUT" default:"10m"`
}

// StagingConfig selects where yearly columnar artifacts are published.
type StagingConfig struct {
	Backend         string `yaml:"backend" envconfig:"BACKEND" default:"local" validate:"oneof=local gcs s3"`
	Prefix          string `yaml:"prefix" envconfig:"PREFIX" default:"data/parquet/"`
	Bucket          string `yaml:"bucket" envconfig:"BUCKET" validate:"required_unless=Backend local"`
	Endpoint        string `yaml:"endpoint" envconfig:"ENDPOINT"`
	Region          string `yaml:"region" envconfig:"REGION" default:"us-east-1"`
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
}

// WarehouseConfig selects the analytical store for the derived relations.
type WarehouseConfig struct {
	Backend         string `yaml:"backend" envconfig:"BACKEND" default:"sqlite" validate:"oneof=bigquery postgres sqlite file"`
	Dataset         string `yaml:"dataset" envconfig:"DATASET" default:"education_database" validate:"required"`
	TimeseriesTable string `yaml:"timeseries_table" envconfig:"TIMESERIES_TABLE" default:"timeseries" validate:"required"`
	TimechangeTable string `yaml:"timechange_table" envconfig:"TIMECHANGE_TABLE" default:"timechange" validate:"required"`
	Project         string `yaml:"project" envconfig:"PROJECT" validate:"required_if=Backend bigquery"`
	DSN             string `yaml:"dsn" envconfig:"DSN" validate:"required_if=Backend postgres"`
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	FileFormat      string `yaml:"file_format" envconfig:"FILE_FORMAT" default:"csv" validate:"oneof=csv csv_bom xlsx"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" default:"10"`
	// AllowedOrigins lists browser origins accepted by CORS and the
	// WebSocket upgrade. Empty means same-host only.
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/eduetl.log"`
}

// TelemetryConfig switches tracing and metrics exporters.
type TelemetryConfig struct {
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" default:"none" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" default:"prometheus" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" default:"1" validate:"gte=0,lte=1"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT" default:"development"`
}

// ScheduleConfig drives periodic runs in serve mode. An empty Cron disables it.
type ScheduleConfig struct {
	Cron string `yaml:"cron" envconfig:"CRON"`
	// Mode is the run mode of scheduled runs.
	Mode string `yaml:"mode" envconfig:"MODE" default:"run" validate:"oneof=run ingest transform"`
	// Retention is how long finished runs stay queryable.
	Retention time.Duration `yaml:"retention" envconfig:"RETENTION" default:"168h"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	WorkDir       string `yaml:"work_dir" envconfig:"WORK_DIR" default:"data"`
	KeepWorkFiles bool   `yaml:"keep_work_files" envconfig:"KEEP_WORK_FILES"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit YAML file path. An empty path skips the file.
func LoadFrom(configFile string) (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileConfig, err := loadFromFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg = mergeConfigs(*fileConfig, cfg)
		}
	}

	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs overlays file values onto env values for every key the
// environment did not set explicitly.
func mergeConfigs(fileConfig, envConfig Config) Config {
	p, fp := &envConfig.Pipeline, fileConfig.Pipeline
	if !envSet("PIPELINE_YEARS") && len(fp.Years) > 0 {
		p.Years = fp.Years
	}
	if !envSet("PIPELINE_SUBJECTS") && len(fp.Subjects) > 0 {
		p.Subjects = fp.Subjects
	}
	if !envSet("PIPELINE_ENTITY_MARKERS") && len(fp.EntityMarkers) > 0 {
		p.EntityMarkers = fp.EntityMarkers
	}
	if !envSet("PIPELINE_ASSESSMENT_CODES") && len(fp.AssessmentCodes) > 0 {
		p.AssessmentCodes = fp.AssessmentCodes
	}
	if !envSet("PIPELINE_CHANGE_ASSESSMENTS") && len(fp.ChangeAssessments) > 0 {
		p.ChangeAssessments = fp.ChangeAssessments
	}
	mergeString(&p.TableTemplate, fp.TableTemplate, "PIPELINE_TABLE_TEMPLATE")
	mergeString(&p.Subgroup, fp.Subgroup, "PIPELINE_SUBGROUP")
	mergeString(&p.OldestSemester, fp.OldestSemester, "PIPELINE_OLDEST_SEMESTER")
	mergeString(&p.NewestSemester, fp.NewestSemester, "PIPELINE_NEWEST_SEMESTER")
	mergeString(&p.SemesterScope, fp.SemesterScope, "PIPELINE_SEMESTER_SCOPE")

	s, fs := &envConfig.Source, fileConfig.Source
	mergeString(&s.URLTemplate, fs.URLTemplate, "SOURCE_URL_TEMPLATE")
	mergeString(&s.ExportCommand, fs.ExportCommand, "SOURCE_EXPORT_COMMAND")
	mergeString(&s.DatabaseExtension, fs.DatabaseExtension, "SOURCE_DATABASE_EXTENSION")
	if !envSet("SOURCE_MAX_ATTEMPTS") && fs.MaxAttempts > 0 {
		s.MaxAttempts = fs.MaxAttempts
	}
	if !envSet("SOURCE_INITIAL_DELAY") && fs.InitialDelay > 0 {
		s.InitialDelay = fs.InitialDelay
	}
	if !envSet("SOURCE_MAX_DELAY") && fs.MaxDelay > 0 {
		s.MaxDelay = fs.MaxDelay
	}
	if !envSet("SOURCE_REQUESTS_PER_SECOND") && fs.RequestsPerSecond > 0 {
		s.RequestsPerSecond = fs.RequestsPerSecond
	}

	st, fst := &envConfig.Staging, fileConfig.Staging
	mergeString(&st.Backend, fst.Backend, "STAGING_BACKEND")
	mergeString(&st.Prefix, fst.Prefix, "STAGING_PREFIX")
	mergeString(&st.Bucket, fst.Bucket, "STAGING_BUCKET")
	mergeString(&st.Endpoint, fst.Endpoint, "STAGING_ENDPOINT")
	mergeString(&st.Region, fst.Region, "STAGING_REGION")
	mergeString(&st.CredentialsFile, fst.CredentialsFile, "STAGING_CREDENTIALS_FILE")

	w, fw := &envConfig.Warehouse, fileConfig.Warehouse
	mergeString(&w.Backend, fw.Backend, "WAREHOUSE_BACKEND")
	mergeString(&w.Dataset, fw.Dataset, "WAREHOUSE_DATASET")
	mergeString(&w.TimeseriesTable, fw.TimeseriesTable, "WAREHOUSE_TIMESERIES_TABLE")
	mergeString(&w.TimechangeTable, fw.TimechangeTable, "WAREHOUSE_TIMECHANGE_TABLE")
	mergeString(&w.Project, fw.Project, "WAREHOUSE_PROJECT")
	mergeString(&w.DSN, fw.DSN, "WAREHOUSE_DSN")
	mergeString(&w.CredentialsFile, fw.CredentialsFile, "WAREHOUSE_CREDENTIALS_FILE")
	mergeString(&w.FileFormat, fw.FileFormat, "WAREHOUSE_FILE_FORMAT")

	if !envSet("SERVER_PORT") && fileConfig.Server.Port != 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if !envSet("SERVER_ALLOWED_ORIGINS") && len(fileConfig.Server.AllowedOrigins) > 0 {
		envConfig.Server.AllowedOrigins = fileConfig.Server.AllowedOrigins
	}
	mergeString(&envConfig.Logging.Level, fileConfig.Logging.Level, "LOGGING_LEVEL")
	mergeString(&envConfig.Logging.Format, fileConfig.Logging.Format, "LOGGING_FORMAT")
	mergeString(&envConfig.Logging.Output, fileConfig.Logging.Output, "LOGGING_OUTPUT")
	mergeString(&envConfig.Logging.FilePath, fileConfig.Logging.FilePath, "LOGGING_FILE_PATH")
	mergeString(&envConfig.Telemetry.TraceExporter, fileConfig.Telemetry.TraceExporter, "TELEMETRY_TRACE_EXPORTER")
	mergeString(&envConfig.Telemetry.MetricExporter, fileConfig.Telemetry.MetricExporter, "TELEMETRY_METRIC_EXPORTER")
	mergeString(&envConfig.Schedule.Cron, fileConfig.Schedule.Cron, "SCHEDULE_CRON")
	mergeString(&envConfig.Schedule.Mode, fileConfig.Schedule.Mode, "SCHEDULE_MODE")
	if !envSet("SCHEDULE_RETENTION") && fileConfig.Schedule.Retention > 0 {
		envConfig.Schedule.Retention = fileConfig.Schedule.Retention
	}
	mergeString(&envConfig.Paths.WorkDir, fileConfig.Paths.WorkDir, "PATHS_WORK_DIR")
	if !envSet("PATHS_KEEP_WORK_FILES") && fileConfig.Paths.KeepWorkFiles {
		envConfig.Paths.KeepWorkFiles = true
	}

	return envConfig
}

func mergeString(dst *string, fileValue, envKey string) {
	if fileValue != "" && !envSet(envKey) {
		*dst = fileValue
	}
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(EnvPrefix + "_" + key)
	return ok
}

// applyDerivedDefaults fills values that default to other values.
func (c *Config) applyDerivedDefaults() {
	// Without an explicit selection every assessment code feeds the change
	// view, which reproduces the cross-subject sum of the reference run.
	if len(c.Pipeline.ChangeAssessments) == 0 {
		c.Pipeline.ChangeAssessments = append([]string(nil), c.Pipeline.AssessmentCodes...)
	}
}

var validate = validator.New()

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	codes := make(map[string]bool, len(c.Pipeline.AssessmentCodes))
	for _, code := range c.Pipeline.AssessmentCodes {
		codes[code] = true
	}
	for _, code := range c.Pipeline.ChangeAssessments {
		if !codes[code] {
			return fmt.Errorf("change assessment %q is not one of the assessment codes %v", code, c.Pipeline.AssessmentCodes)
		}
	}

	if c.Pipeline.OldestSemester == c.Pipeline.NewestSemester {
		return fmt.Errorf("oldest and newest semester must differ, both are %q", c.Pipeline.OldestSemester)
	}

	if !strings.Contains(c.Pipeline.TableTemplate, "%s") {
		return fmt.Errorf("table template %q must contain %%s", c.Pipeline.TableTemplate)
	}

	if c.Source.MaxDelay < c.Source.InitialDelay {
		return fmt.Errorf("source max delay %s is shorter than initial delay %s", c.Source.MaxDelay, c.Source.InitialDelay)
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	cfg := &Config{
		Pipeline: PipelineConfig{
			Years:           []int{2022, 2021, 2019, 2018},
			Subjects:        []string{"ELA", "Math", "Science"},
			TableTemplate:   DefaultTableTemplate,
			EntityMarkers:   []string{"Charter Schools", "County", "All Public Schools"},
			Subgroup:        DefaultSubgroup,
			AssessmentCodes: []string{"ELA8", "MATH8", "Science8"},
			OldestSemester:  "2018S1",
			NewestSemester:  "2022S1",
			SemesterScope:   SemesterScopeTable,
		},
		Source: SourceConfig{
			URLTemplate:       DefaultURLTemplate,
			ExportCommand:     "mdb-export",
			DatabaseExtension: ".accdb",
			MaxAttempts:       10,
			InitialDelay:      2 * time.Second,
			MaxDelay:          time.Minute,
			RequestsPerSecond: 1,
			HTTPTimeout:       10 * time.Minute,
		},
		Staging: StagingConfig{
			Backend: StagingBackendLocal,
			Prefix:  "data/parquet/",
			Region:  "us-east-1",
		},
		Warehouse: WarehouseConfig{
			Backend:         WarehouseBackendSQLite,
			Dataset:         "education_database",
			TimeseriesTable: "timeseries",
			TimechangeTable: "timechange",
			FileFormat:      "csv",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  10,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/eduetl.log",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1,
			Environment:    "development",
		},
		Schedule: ScheduleConfig{
			Mode:      "run",
			Retention: 7 * 24 * time.Hour,
		},
		Paths: PathsConfig{
			WorkDir: "data",
		},
	}
	cfg.applyDerivedDefaults()
	return cfg
}
