package codec

import "encoding/json"

// JSON is the standard-library JSON codec.
//
// Metadata payloads are plain structs of strings and float slices, which JSON
// round-trips losslessly (float64 survives encoding/json exactly).
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used for newly persisted metadata. Existing files are
// self-describing and are opened by selecting the codec recorded in them.
var Default Codec = JSON{}
