package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tabsession-go/internal/cli/output"
	"github.com/yndnr/tabsession-go/internal/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the merged configuration with secrets masked",
				Action: configShow,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration, including the provider section",
				Action: configValidate,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	sanitized := config.Sanitize(configFrom(c))

	// Nested sections render as YAML unless JSON is asked for.
	format, _ := c.App.Metadata[metaFormat].(output.Format)
	if format == output.FormatTable {
		format = output.FormatYAML
	}
	return output.NewFormatter(format).Format(c.App.Writer, sanitized)
}

func configValidate(c *cli.Context) error {
	if err := config.Verify(configFrom(c)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Fprintln(c.App.Writer, "Configuration is valid")
	return nil
}
