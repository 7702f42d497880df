package output

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter writes YAML.
type YAMLFormatter struct{}

// Format encodes data. Raw JSON is decoded first so it renders as YAML
// rather than as a byte sequence.
func (f *YAMLFormatter) Format(w io.Writer, data any) error {
	if raw, ok := data.(json.RawMessage); ok {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		data = v
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}
