package jsonx

import (
	"bytes"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ParseJSON parses a JSON object into a map. Numbers are kept as json.Number so their text survives.
// An empty body yields an empty map.
func ParseJSON(jsonData []byte) (map[string]any, error) {
	object := map[string]any{}

	if len(bytes.TrimSpace(jsonData)) == 0 {
		return object, nil
	}

	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.UseNumber()

	if err := dec.Decode(&object); err != nil {
		return nil, errors.WithMessage(err, "failed to parse JSON object")
	}

	if object == nil {
		object = map[string]any{}
	}

	return object, nil
}
