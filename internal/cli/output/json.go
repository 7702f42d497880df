package output

import (
	"encoding/json"
	"io"
)

// JSONFormatter writes indented JSON.
type JSONFormatter struct{}

// Format encodes data. json.RawMessage values are re-indented as is.
func (f *JSONFormatter) Format(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(data)
}
