package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable the tool reads,
// e.g. SCALEPREP_URL or SCALEPREP_PASSWORD.
const EnvPrefix = "SCALEPREP"

// Config holds the runtime configuration for one seeding run.
// Values come from flags first, then SCALEPREP_* environment variables
// (a .env file in the working directory is loaded into the environment),
// then an optional config file, then defaults.
type Config struct {
	DatabaseURL string
	Username    string
	Password    string

	// AppType selects which application runs are cloned (hive or spark).
	AppType string

	// NumApps is how many synthetic runs to create. Zero means report only.
	NumApps int

	// EventInstancesOnly skips the app-type specific detail tables.
	EventInstancesOnly bool

	// SingleTransaction writes event instances and detail rows in one
	// transaction instead of one transaction per table.
	SingleTransaction bool

	// MetricsFile, when set, receives a Prometheus textfile snapshot of the run.
	MetricsFile string

	LogJSON bool
	Verbose bool
}

// Keys as they appear in flags, config files and (upper-cased) env vars.
const (
	KeyURL                = "url"
	KeyUsername           = "username"
	KeyPassword           = "password"
	KeyAppType            = "app-type"
	KeyNumApps            = "num-apps"
	KeyEventInstancesOnly = "event-instances-only"
	KeySingleTransaction  = "single-transaction"
	KeyMetricsFile        = "metrics-file"
	KeyLogJSON            = "log-json"
	KeyVerbose            = "verbose"
)

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyNumApps, 0)
	v.SetDefault(KeyEventInstancesOnly, false)
	v.SetDefault(KeySingleTransaction, false)
	v.SetDefault(KeyMetricsFile, "")
	v.SetDefault(KeyLogJSON, false)
	v.SetDefault(KeyVerbose, false)
}

// New returns a viper instance wired for SCALEPREP_* environment variables.
// Dashes in keys map to underscores, so app-type reads SCALEPREP_APP_TYPE.
func New() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load binds flags (if any), reads configFile (if non-empty) and decodes the
// result into a Config. The returned Config is not validated.
func Load(v *viper.Viper, flags *pflag.FlagSet, configFile string) (*Config, error) {
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, errors.Wrap(err, "bind flags")
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", configFile)
		}
	}

	cfg := &Config{
		DatabaseURL:        strings.TrimSpace(v.GetString(KeyURL)),
		Username:           v.GetString(KeyUsername),
		Password:           v.GetString(KeyPassword),
		AppType:            strings.ToLower(strings.TrimSpace(v.GetString(KeyAppType))),
		NumApps:            v.GetInt(KeyNumApps),
		EventInstancesOnly: v.GetBool(KeyEventInstancesOnly),
		SingleTransaction:  v.GetBool(KeySingleTransaction),
		MetricsFile:        v.GetString(KeyMetricsFile),
		LogJSON:            v.GetBool(KeyLogJSON),
		Verbose:            v.GetBool(KeyVerbose),
	}
	return cfg, nil
}

// Validate checks that everything needed to reach the database is present.
// The app type itself is checked when the orchestrator is constructed.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "--"+KeyURL)
	}
	if c.Username == "" {
		missing = append(missing, "--"+KeyUsername)
	}
	if c.Password == "" {
		missing = append(missing, "--"+KeyPassword)
	}
	if c.AppType == "" {
		missing = append(missing, "--"+KeyAppType)
	}
	if len(missing) > 0 {
		return errors.WithHintf(
			errors.Newf("missing required options: %s", strings.Join(missing, ", ")),
			"each option can also be set through %s_<NAME> environment variables", EnvPrefix)
	}
	if c.NumApps < 0 {
		return errors.Newf("--%s must not be negative, got %d", KeyNumApps, c.NumApps)
	}
	return nil
}
