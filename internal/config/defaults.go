package config

// DefaultPort is the default port for the gateway HTTP server.
const DefaultPort = 7787

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.aigateway"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "aigateway.toml"

// DefaultDatabaseFilename is the SQLite database file inside the data dir.
const DefaultDatabaseFilename = "aigateway.db"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// Set high (5 minutes) because a capability call may sit through the full
// retry schedule before responding.
const DefaultWriteTimeout = 300

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum request body size in bytes (10 MB).
const DefaultMaxBodySize int64 = 10 << 20

// DefaultProbeIntervalMinutes is the default health probe cadence.
const DefaultProbeIntervalMinutes = 10

// ValidLogLevels are the accepted values for server.log_level.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error"}

// DefaultConfig returns a Config populated with every default value.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         DefaultPort,
			LogLevel:     DefaultLogLevel,
			DataDir:      DefaultDataDir,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		Health: HealthConfig{
			ProbeIntervalMinutes: DefaultProbeIntervalMinutes,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			ServiceName: "aigateway",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
