package httpserver

import (
	"io"
	"log/slog"
	"strconv"
	"time"
)

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func formatMS(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
