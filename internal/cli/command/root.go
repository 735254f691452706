package command

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tabsession-go/internal/cli/output"
	"github.com/yndnr/tabsession-go/internal/config"
	"github.com/yndnr/tabsession-go/internal/infra/buildinfo"
	"github.com/yndnr/tabsession-go/internal/infra/confloader"
	"github.com/yndnr/tabsession-go/internal/telemetry/logger"
)

// Metadata keys set by the Before hook.
const (
	metaConfig = "config"
	metaLogger = "logger"
	metaFormat = "format"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "tabsession",
		Usage:   "Share one OAuth2 session between concurrent processes",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			LoginCommand(),
			CallbackCommand(),
			StatusCommand(),
			WatchCommand(),
			LogoutCommand(),
			LockCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		Before: setup,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			EnvVars: []string{"TABSESSION_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format: text, json",
		},
		&cli.StringFlag{
			Name:  "store",
			Usage: "Store backend: file, badger, memory",
		},
		&cli.StringFlag{
			Name:  "store-dir",
			Usage: "Directory holding the shared store",
		},
		&cli.StringFlag{
			Name:  "tab-id",
			Usage: "Identifier of this tab (default: a new ULID)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
	}
}

// flagOverrides maps the global flags that were set to config keys.
var flagOverrides = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"store":      "store.backend",
	"store-dir":  "store.dir",
}

// setup loads the configuration and builds the logger.
func setup(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: c.App.ErrWriter,
	})
	if err != nil {
		return err
	}

	c.App.Metadata[metaConfig] = cfg
	c.App.Metadata[metaLogger] = log
	c.App.Metadata[metaFormat] = format
	return nil
}

// loadConfig reads defaults, the config file, TABSESSION_* variables and
// the global flags, in increasing priority. The provider section is
// verified by the commands that talk to the provider.
func loadConfig(c *cli.Context) (*config.Config, error) {
	overrides := make(map[string]any)
	for flag, key := range flagOverrides {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}

	cfg := config.Default()
	loader := confloader.NewLoader(
		confloader.WithConfigFile(c.String("config")),
		confloader.WithOverrides(overrides),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.VerifyLocal(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// configFrom returns the configuration loaded by setup.
func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

// loggerFrom returns the logger built by setup.
func loggerFrom(c *cli.Context) *slog.Logger {
	if l, ok := c.App.Metadata[metaLogger].(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// render writes data in the selected output format.
func render(c *cli.Context, data any) error {
	format, _ := c.App.Metadata[metaFormat].(output.Format)
	return output.NewFormatter(format).Format(c.App.Writer, data)
}
