package command

import (
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/snapfn-go/internal/bootstrap"
	"github.com/yndnr/snapfn-go/internal/cli/output"
	"github.com/yndnr/snapfn-go/internal/infra/buildinfo"
	"github.com/yndnr/snapfn-go/internal/infra/confloader"
	"github.com/yndnr/snapfn-go/internal/server/config"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:                 "snapfn",
		Usage:                "Snapshot-aware serverless function runtime",
		Version:              buildinfo.String(),
		Flags:                globalFlags(),
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			LambdaCommand(),
			ServeCommand(),
			InvokeCommand(),
			SnapshotCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			EnvVars: []string{"SNAPFN_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.StringSliceFlag{
			Name:  "set",
			Usage: "Override a configuration key, e.g. store.engine=memory",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
	}
}

// GlobalFlags holds the flags every command shares.
type GlobalFlags struct {
	Config   string
	LogLevel string
	Set      []string
	Output   string
	Wide     bool
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Config:   c.String("config"),
		LogLevel: c.String("log-level"),
		Set:      c.StringSlice("set"),
		Output:   c.String("output"),
		Wide:     c.Bool("wide"),
	}
}

// Overrides converts --log-level and --set into loader overrides. extra
// is applied last.
func (f *GlobalFlags) Overrides(extra map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(f.Set)+len(extra)+1)
	if f.LogLevel != "" {
		values["log.level"] = f.LogLevel
	}
	for _, kv := range f.Set {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("--set %q: want key=value", kv)
		}
		values[k] = strings.TrimSpace(v)
	}
	for k, v := range extra {
		values[k] = v
	}
	return values, nil
}

// loadConfig loads the configuration with the command line applied on top.
func loadConfig(c *cli.Context, extra map[string]any) (*config.Config, *confloader.Loader, error) {
	flags := ParseGlobalFlags(c)
	overrides, err := flags.Overrides(extra)
	if err != nil {
		return nil, nil, err
	}
	return bootstrap.LoadConfig(flags.Config, overrides)
}

// newApp loads the configuration and wires an environment. Logs go to the
// CLI's error writer.
func newApp(c *cli.Context, extra map[string]any) (*bootstrap.App, *confloader.Loader, error) {
	cfg, loader, err := loadConfig(c, extra)
	if err != nil {
		return nil, nil, err
	}
	app, err := bootstrap.New(c.Context, cfg, bootstrap.WithLogOutput(c.App.ErrWriter))
	if err != nil {
		return nil, nil, err
	}
	return app, loader, nil
}

// render writes data in the selected output format.
func render(c *cli.Context, data any) error {
	flags := ParseGlobalFlags(c)
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return err
	}
	return output.NewFormatter(format, flags.Wide).Format(writer(c), data)
}

func writer(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return io.Discard
}
