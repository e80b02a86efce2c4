package avail

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v2"
)

const DefaultConfigPath = "./covidwa-availability.yaml"
const APIKeyEnvName = "API_KEY_AVAIL"
const APIHostEnvName = "API_HOST_AVAIL"
const APIKeyAWSName = "availability-api-key"
const DatabaseUrlEnvName = "DATABASE_URL"
const DefaultPollInterval = 600

var HostPattern = regexp.MustCompile(`(?i)https?://([^/]+)`)

// looked up when no api key is configured; replaced in tests
var getSecretParameter = GetAWSEncryptedParameter

type Config struct {
	Debug    bool     `yaml:"debug"`
	TestMode bool     `yaml:"test_mode"`
	States   []string `yaml:"states"`
	// max sources run at once; 0 runs them all together
	Concurrency int `yaml:"concurrency"`
	// seconds between runs of a source in continuous mode
	PollInterval          int64 `yaml:"poll_interval"`
	ErrorWarningThreshold int   `yaml:"error_warning_threshold"`

	// remote server to send updates to, if not writing to a database
	ApiUrl string `yaml:"api_url"`
	ApiKey string `yaml:"api_key"`

	DatabaseUrl   string   `yaml:"database_url"`
	ServerAddress string   `yaml:"server_address"`
	ServerApiKeys []string `yaml:"server_api_keys"`

	DumpDir      string `yaml:"dump_dir"`
	DumpOutput   bool   `yaml:"dump_output"`
	DumpOutputS3 bool   `yaml:"dump_output_s3"`
	S3Bucket     string `yaml:"s3_bucket"`

	FromEmailAddress string   `yaml:"from_email_address"`
	SmtpUsername     string   `yaml:"smtp_user"`
	SmtpPassword     string   `yaml:"smtp_pass"`
	SmtpHost         string   `yaml:"smtp_host"`
	SmtpPort         int      `yaml:"smtp_port"`
	NotifyEmailAddrs []string `yaml:"notify_email_addrs"`
	NotifyOnError    bool     `yaml:"notify_on_error"`

	SourceConfigs map[string]SourceConfig `yaml:"sources"`
}

type SourceConfig struct {
	Type                 string                 `yaml:"type"`
	Params               map[string]interface{} `yaml:"params"`
	States               []string               `yaml:"states"`
	HideMissingLocations bool                   `yaml:"hide_missing_locations"`
}

func NewConfigDefaultPath(ctx context.Context) (*Config, error) {
	return NewConfig(ctx, DefaultConfigPath)
}

func NewConfig(ctx context.Context, configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, eris.Wrap(err, "config: open")
	}
	defer file.Close()

	config := &Config{}
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, eris.Wrapf(err, "config: parse %s", configPath)
	}

	if err := config.resolve(ctx, configPath); err != nil {
		return nil, err
	}
	return config, nil
}

// ParseConfig reads config from YAML text. Used in tests and by the lambda,
// which gets its config from the event.
func ParseConfig(ctx context.Context, data []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, eris.Wrap(err, "config: parse")
	}
	if err := config.resolve(ctx, "<inline>"); err != nil {
		return nil, err
	}
	return config, nil
}

// resolve applies environment overrides, looks up secrets and checks the
// result.
func (config *Config) resolve(ctx context.Context, configPath string) error {
	if config.Debug {
		Log.SetLevel("debug")
	}

	for i, state := range config.States {
		config.States[i] = strings.ToUpper(strings.TrimSpace(state))
	}

	//replace host portion of url, usually for testing
	hostOverride := os.Getenv(APIHostEnvName)
	if len(hostOverride) > 0 && len(config.ApiUrl) > 0 {
		newApiUrl, err := ReplaceHost(config.ApiUrl, hostOverride)
		if err != nil {
			return err
		}
		config.ApiUrl = newApiUrl
	}

	if len(config.DatabaseUrl) == 0 {
		config.DatabaseUrl = os.Getenv(DatabaseUrlEnvName)
	}

	if len(config.ApiUrl) > 0 {
		Log.Debugf("API URL: %s", config.ApiUrl)
		if err := config.resolveApiKey(ctx, configPath); err != nil {
			return err
		}
	}

	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.PollInterval < 10 || config.PollInterval > 86400 {
		return fmt.Errorf("Poll interval must be between 10 and 86400 seconds, configured: %d", config.PollInterval)
	}
	if config.ErrorWarningThreshold <= 0 {
		config.ErrorWarningThreshold = 1
	}

	if config.DumpOutputS3 && len(config.S3Bucket) == 0 {
		config.S3Bucket = DefaultS3ArchiveBucket
	}

	for name, sourceConfig := range config.SourceConfigs {
		if len(sourceConfig.Type) == 0 {
			return fmt.Errorf("Source %s has no type", name)
		}
		if sourceConfig.Params == nil {
			sourceConfig.Params = make(map[string]interface{})
			config.SourceConfigs[name] = sourceConfig
		}
	}

	return nil
}

// api key lookup: config file, then environment, then AWS parameter store
func (config *Config) resolveApiKey(ctx context.Context, configPath string) error {
	if len(config.ApiKey) > 0 {
		Log.Debugf("API key found in %s", configPath)
		return nil
	}

	config.ApiKey = os.Getenv(APIKeyEnvName)
	notFound := ""
	if len(config.ApiKey) == 0 {
		notFound = "NOT "
	}
	Log.Debugf("API key %sfound in environment variable %s", notFound, APIKeyEnvName)

	if len(config.ApiKey) == 0 {
		var err error
		config.ApiKey, err = getSecretParameter(ctx, APIKeyAWSName)
		if err != nil {
			Log.Errorf("Could not get api key from AWS: %v", err)
		}

		notFound = ""
		if len(config.ApiKey) == 0 {
			notFound = "NOT "
		}
		Log.Debugf("API key %sfound in AWS parameter '%s'", notFound, APIKeyAWSName)
	}

	if len(config.ApiKey) == 0 {
		return fmt.Errorf("Could not find api key in any of these places: %s, $%s, or AWS parameter '%s'", configPath, APIKeyEnvName, APIKeyAWSName)
	}
	return nil
}

func (config *Config) statesFor(sourceConfig *SourceConfig) []string {
	if len(sourceConfig.States) > 0 {
		states := make([]string, len(sourceConfig.States))
		for i, state := range sourceConfig.States {
			states[i] = strings.ToUpper(strings.TrimSpace(state))
		}
		return states
	}
	return config.States
}

func ReplaceHost(originalUrl string, host string) (string, error) {
	matches := HostPattern.FindStringSubmatch(originalUrl)
	if len(matches) < 2 {
		return "", fmt.Errorf("Could not parse host from url: %s", originalUrl)
	}

	originalHost := matches[1]
	newUrl := strings.Replace(originalUrl, originalHost, host, 1)

	return newUrl, nil
}
