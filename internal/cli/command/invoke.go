package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/snapfn-go/internal/core/dispatch"
	"github.com/yndnr/snapfn-go/internal/core/domain"
)

// InvokeCommand dispatches one event in-process.
func InvokeCommand() *cli.Command {
	return &cli.Command{
		Name:      "invoke",
		Usage:     "Boot an environment and dispatch one event",
		ArgsUsage: "[EVENT_JSON]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Read the event from a file (- for stdin)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Invocation deadline (0 uses runtime.invocation_timeout)",
			},
		},
		Action: runInvoke,
	}
}

// InvocationError is returned when the dispatched event fails. The error
// payload has already been written to the error writer.
type InvocationError struct {
	Kind domain.Kind
}

func (e *InvocationError) Error() string {
	return "invocation failed: " + string(e.Kind)
}

func readEvent(c *cli.Context) ([]byte, error) {
	path := c.String("file")
	switch {
	case path == "-":
		return io.ReadAll(stdin(c))
	case path != "":
		return os.ReadFile(path)
	case c.Args().Len() > 0:
		return []byte(strings.Join(c.Args().Slice(), " ")), nil
	default:
		return nil, errors.New("no event: pass EVENT_JSON or --file")
	}
}

func stdin(c *cli.Context) io.Reader {
	if c.App.Reader != nil {
		return c.App.Reader
	}
	return os.Stdin
}

func runInvoke(c *cli.Context) error {
	raw, err := readEvent(c)
	if err != nil {
		return err
	}

	app, _, err := newApp(c, nil)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	if err := app.Boot(c.Context); err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	var deadline time.Time
	if d := c.Duration("timeout"); d > 0 {
		deadline = time.Now().Add(d)
	}

	var out domain.Outcome
	if dispatch.IsBatch(raw) {
		out = app.Dispatcher.DispatchBatch(c.Context, raw, deadline)
	} else {
		out = app.Dispatcher.Dispatch(c.Context, raw, deadline)
	}

	if !out.OK() {
		enc := json.NewEncoder(c.App.ErrWriter)
		if err := enc.Encode(out.ErrorPayload()); err != nil {
			return err
		}
		return &InvocationError{Kind: out.Kind()}
	}
	return render(c, out.Value)
}
