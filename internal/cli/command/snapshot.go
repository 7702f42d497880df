package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/snapfn-go/internal/bootstrap"
	"github.com/yndnr/snapfn-go/internal/core/lifecycle"
	"github.com/yndnr/snapfn-go/internal/storage/snapshot"
)

// SnapshotCommand returns the snapshot image subcommand group.
func SnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:    "snapshot",
		Aliases: []string{"snap"},
		Usage:   "Manage snapshot images",
		Subcommands: []*cli.Command{
			{
				Name:   "capture",
				Usage:  "Initialize cold and write a fresh image for this build",
				Action: snapshotCapture,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List images, oldest first",
				Action:  snapshotList,
			},
			{
				Name:      "inspect",
				Usage:     "Show the routes and resources recorded in an image",
				ArgsUsage: "IMAGE_ID",
				Action:    snapshotInspect,
			},
			{
				Name:  "prune",
				Usage: "Remove all but the newest images",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "keep",
						Usage: "Images to keep (0 uses snapshot.keep)",
					},
				},
				Action: snapshotPrune,
			},
		},
	}
}

// ImageRow is one line of snapshot list.
type ImageRow struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	BuildVersion string    `json:"build_version"`
	Encrypted    bool      `json:"encrypted"`
	Size         int64     `json:"size"`
	Fingerprint  string    `json:"fingerprint" table:"wide"`
	Path         string    `json:"path" table:"wide"`
}

func newImageRow(info *snapshot.Info) ImageRow {
	return ImageRow{
		ID:           info.ID,
		CreatedAt:    info.CreatedAt,
		BuildVersion: info.BuildVersion,
		Encrypted:    info.Encrypted,
		Size:         info.Size,
		Fingerprint:  info.Fingerprint,
		Path:         info.Path,
	}
}

// ImageDetail is the output of snapshot inspect and capture.
type ImageDetail struct {
	File         string    `json:"file,omitempty"`
	ImageID      string    `json:"image_id"`
	CreatedAt    time.Time `json:"created_at"`
	BuildVersion string    `json:"build_version"`
	Fingerprint  string    `json:"fingerprint"`
	Encrypted    bool      `json:"encrypted"`
	Routes       []string  `json:"routes"`
	Resources    []string  `json:"resources"`
}

func newImageDetail(img *lifecycle.Image, info *snapshot.Info) ImageDetail {
	d := ImageDetail{
		ImageID:      img.ID,
		CreatedAt:    img.CreatedAt,
		BuildVersion: img.BuildVersion,
		Fingerprint:  img.Fingerprint,
		Routes:       img.Routes,
	}
	for _, r := range img.Resources {
		d.Resources = append(d.Resources, fmt.Sprintf("%s (%s, %d bytes)", r.Name, r.Policy, len(r.State)))
	}
	if info != nil {
		d.File = info.ID
		d.Encrypted = info.Encrypted
	}
	return d
}

func openImages(c *cli.Context) (*snapshot.Manager, error) {
	cfg, _, err := loadConfig(c, nil)
	if err != nil {
		return nil, err
	}
	return bootstrap.OpenImages(cfg)
}

func snapshotCapture(c *cli.Context) error {
	app, _, err := newApp(c, map[string]any{"snapshot.mode": string(lifecycle.ModeAuto)})
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	img, err := app.Capture(c.Context)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	_, info, err := app.Images.Latest()
	if err != nil {
		return err
	}
	return render(c, newImageDetail(img, info))
}

func snapshotList(c *cli.Context) error {
	m, err := openImages(c)
	if err != nil {
		return err
	}
	infos, err := m.List()
	if err != nil {
		return err
	}
	rows := make([]ImageRow, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, newImageRow(info))
	}
	return render(c, rows)
}

func snapshotInspect(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("image id is required")
	}
	m, err := openImages(c)
	if err != nil {
		return err
	}

	payload, info, err := m.Load(id)
	if errors.Is(err, snapshot.ErrKeyRequired) {
		// Without the key only the header is readable.
		info, err = m.Inspect(id)
		if err != nil {
			return err
		}
		return render(c, newImageRow(info))
	}
	if err != nil {
		return err
	}

	var img lifecycle.Image
	if err := json.Unmarshal(payload, &img); err != nil {
		return fmt.Errorf("decode image %s: %w", id, err)
	}
	return render(c, newImageDetail(&img, info))
}

func snapshotPrune(c *cli.Context) error {
	m, err := openImages(c)
	if err != nil {
		return err
	}
	removed, err := m.Prune(c.Int("keep"))
	if err != nil {
		return err
	}
	return render(c, map[string]int{"removed": removed})
}
