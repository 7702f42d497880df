package command

import (
	"github.com/urfave/cli/v2"
)

// LambdaCommand runs the function under the platform's runtime API.
func LambdaCommand() *cli.Command {
	return &cli.Command{
		Name:   "lambda",
		Usage:  "Run as a Lambda function (the default entry point in the platform)",
		Action: runLambda,
	}
}

func runLambda(c *cli.Context) error {
	app, loader, err := newApp(c, nil)
	if err != nil {
		return err
	}
	stop, err := app.WatchConfig(loader)
	if err != nil {
		app.Log.Warn("config watcher disabled", "error", err)
	} else {
		defer stop()
	}
	return app.ServeLambda(c.Context)
}

// ServeCommand runs the local emulator.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the local invoke emulator over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address (overrides server.http.addr)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	extra := map[string]any{}
	if addr := c.String("addr"); addr != "" {
		extra["server.http.addr"] = addr
	}
	app, loader, err := newApp(c, extra)
	if err != nil {
		return err
	}
	stop, err := app.WatchConfig(loader)
	if err != nil {
		app.Log.Warn("config watcher disabled", "error", err)
	} else {
		defer stop()
	}
	return app.ServeHTTP(c.Context, nil)
}
