package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/snapfn-go/internal/cli/output"
	"github.com/yndnr/snapfn-go/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the effective configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the merged configuration with secrets masked",
				Action: configShow,
			},
			{
				Name:   "validate",
				Usage:  "Load and verify the configuration",
				Action: configValidate,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	cfg, _, err := loadConfig(c, nil)
	if err != nil {
		return err
	}

	// Nested sections have no useful table shape.
	format, err := output.ParseFormat(ParseGlobalFlags(c).Output)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		format = output.FormatYAML
	}
	return output.NewFormatter(format, false).Format(writer(c), config.Sanitize(cfg))
}

func configValidate(c *cli.Context) error {
	if _, _, err := loadConfig(c, nil); err != nil {
		return err
	}
	_, err := writer(c).Write([]byte("configuration is valid\n"))
	return err
}
