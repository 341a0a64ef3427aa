package application

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/circuit-go/internal/driver"
	"github.com/lk2023060901/circuit-go/internal/hub"
	zlog "github.com/lk2023060901/circuit-go/pkg/log"
	zviper "github.com/lk2023060901/circuit-go/pkg/util/viper"
)

const (
	// EnvPrefix is the prefix of every environment variable read by the application.
	EnvPrefix = "CIRCUIT"
	// EnvConfigFilePath overrides the default config file location.
	EnvConfigFilePath = EnvPrefix + "_CONFIG_FILE_PATH"
	// DefaultConfigFilePath is used when neither the env var nor --config is set.
	DefaultConfigFilePath = "./config.yaml"
)

// ServerSettings configures the WebSocket endpoint and the HTTP side routes.
type ServerSettings struct {
	Addr          string        `mapstructure:"addr"`
	Path          string        `mapstructure:"path"`
	MetricsPath   string        `mapstructure:"metrics-path"`
	AdminPath     string        `mapstructure:"admin-path"`
	SendQueueSize int           `mapstructure:"send-queue-size"`
	ReadTimeout   time.Duration `mapstructure:"read-timeout"`
	WriteTimeout  time.Duration `mapstructure:"write-timeout"`
}

// Settings is the typed view of the configuration file.
type Settings struct {
	Server   ServerSettings         `mapstructure:"server"`
	Driver   driver.Config          `mapstructure:"driver"`
	Activity hub.Config             `mapstructure:"activity"`
	Logging  map[string]zlog.Config `mapstructure:"logging"`
}

func setDefaults(cfg *zviper.Config) {
	cfg.SetDefault("server.addr", ":8080")
	cfg.SetDefault("server.path", "/ws")
	cfg.SetDefault("server.metrics-path", "/metrics")
	cfg.SetDefault("server.admin-path", "/admin")
	cfg.SetDefault("server.send-queue-size", 256)
	cfg.SetDefault("server.read-timeout", "0s")
	cfg.SetDefault("server.write-timeout", "10s")
	cfg.SetDefault("driver.interval", "1s")
	cfg.SetDefault("driver.concurrency", 0)
	cfg.SetDefault("driver.prealloc", false)
	cfg.SetDefault("driver.worker-expiry", "0s")
	cfg.SetDefault("activity.timeout", "30s")
}

// Application is the runtime container of a circuit process.
// It owns configuration and the named loggers.
type Application struct {
	cfg        *zviper.Config
	configPath string
	settings   Settings
	loggers    map[string]*zlog.MLogger
}

// New creates a new Application instance.
func New() *Application {
	return &Application{}
}

// Run loads configuration and initializes logging.
//
// The config file is resolved with the following priority:
//  1. CLI: --config <path> (configFlag)
//  2. Env: CIRCUIT_CONFIG_FILE_PATH
//  3. Default: ./config.yaml, which may be absent
//
// Values from CIRCUIT_<SECTION>_<KEY> env vars override the file.
func (a *Application) Run(configFlag string) error {
	if err := a.loadConfig(configFlag); err != nil {
		return err
	}
	return a.initLogging()
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// ConfigPath returns the config file actually read, empty when running on defaults.
func (a *Application) ConfigPath() string {
	return a.configPath
}

// Settings returns the decoded settings.
func (a *Application) Settings() Settings {
	return a.settings
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L().With(zlog.FieldModule(name))}
}

// resolveConfigPath returns the config path and whether it was set explicitly.
func resolveConfigPath(configFlag string) (string, bool) {
	if configFlag != "" {
		return configFlag, true
	}
	if envPath := strings.TrimSpace(os.Getenv(EnvConfigFilePath)); envPath != "" {
		return envPath, true
	}
	return DefaultConfigFilePath, false
}

// loadConfig resolves the config file path and loads it via the viper wrapper.
func (a *Application) loadConfig(configFlag string) error {
	cfg := zviper.New(EnvPrefix)
	setDefaults(cfg)

	path, explicit := resolveConfigPath(configFlag)
	if _, statErr := os.Stat(path); statErr == nil || explicit {
		if err := cfg.LoadFile(path); err != nil {
			return errors.Wrapf(err, "failed to load config file %q", path)
		}
		a.configPath = path
	}

	var settings Settings
	if err := cfg.Unmarshal(&settings); err != nil {
		return errors.Wrap(err, "decode settings")
	}
	a.cfg = cfg
	a.settings = settings
	return nil
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// initGlobalLoggerFromEnv configures the process-wide logger based on CIRCUIT_LOG_* env vars.
//
//   - CIRCUIT_LOG_ENABLE: "1"/"true" to enable outputs (default true).
//   - CIRCUIT_LOG_LEVEL: log level (default "info").
//   - CIRCUIT_LOG_STDOUT: whether to log to stdout (default true).
//   - CIRCUIT_LOG_FILE_DIR: log directory.
//   - CIRCUIT_LOG_FILE: log file name (empty means no file).
//   - CIRCUIT_LOG_FORMAT: "console" or "json" (default "console").
func (a *Application) initGlobalLoggerFromEnv() error {
	cfg := &zlog.Config{
		Level:  getenvDefault(EnvPrefix+"_LOG_LEVEL", "info"),
		Format: getenvDefault(EnvPrefix+"_LOG_FORMAT", zlog.FormatConsole),
		Stdout: getenvBool(EnvPrefix+"_LOG_STDOUT", true),
		File: zlog.FileLogConfig{
			RootPath: getenvDefault(EnvPrefix+"_LOG_FILE_DIR", ""),
			Filename: getenvDefault(EnvPrefix+"_LOG_FILE", ""),
		},
	}

	// When not enabled, direct all outputs to a discarded sink.
	if !getenvBool(EnvPrefix+"_LOG_ENABLE", true) {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig creates named loggers from the "logging" section.
//
// Example:
//
//	logging:
//	  registry:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: registry.log
func (a *Application) initModuleLoggersFromConfig() error {
	if len(a.settings.Logging) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(a.settings.Logging))
	for name, lc := range a.settings.Logging {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger.With(zlog.FieldModule(name))}
	}
	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
