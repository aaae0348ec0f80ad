package platewatch

import "github.com/hazyhaar/plates/platewatch/internal/config"

// Config is the top-level platewatch configuration.
type Config = config.Config

// Configuration sections.
type (
	SourceConfig     = config.SourceConfig
	BrowserConfig    = config.BrowserConfig
	PollConfig       = config.PollConfig
	RecognizerConfig = config.RecognizerConfig
	SinkConfig       = config.SinkConfig
	StorageConfig    = config.StorageConfig
	StatusConfig     = config.StatusConfig
)

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig parses an in-memory YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}
