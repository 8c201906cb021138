package postman

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// sanitizer strips markup tags and escapes residual special characters.
// The transformation is deliberately lossy: sanitized values are only
// ever used for outbound message bodies and log records, never for
// round-tripping.
var sanitizer = bluemonday.StrictPolicy()

// Sanitize strips markup from a value for inclusion in a message body.
func Sanitize(s string) string {
	return sanitizer.Sanitize(s)
}

// BuildMessage assembles a human-readable message body from the
// submitted fields, in field registration order. Fields marked Exclude
// are skipped. Multi-valued fields are joined with ", " within a line
// and sections are separated by a blank line.
func BuildMessage(fields []*Field, data url.Values) string {
	var sections []string

	for _, field := range fields {
		if field.Exclude {
			continue
		}

		value := strings.Join(data[field.Name], ", ")
		sections = append(sections, field.label()+": "+Sanitize(value))
	}

	return strings.Join(sections, "\n\n")
}

// fieldRecord is the serialized shape of a field definition in the log
// field-data blob. Downstream consumers parse the blob to enumerate
// fields, their labels, and whether they were excluded from the message.
type fieldRecord struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Required bool   `json:"required,omitempty"`
	Exclude  bool   `json:"exclude,omitempty"`
	Value    any    `json:"value"`
}

// encodeFieldData serializes the registered fields and their submitted
// values for the persisted log record.
func encodeFieldData(fields []*Field, data url.Values) ([]byte, error) {
	records := make([]fieldRecord, 0, len(fields))

	for _, field := range fields {
		rec := fieldRecord{
			Name:     field.Name,
			Label:    field.label(),
			Required: field.Required,
			Exclude:  field.Exclude,
		}

		values := data[field.Name]
		switch len(values) {
		case 0:
			rec.Value = ""
		case 1:
			rec.Value = values[0]
		default:
			rec.Value = values
		}

		records = append(records, rec)
	}

	return json.Marshal(records)
}

// flattenHeaders converts a header map to "Key: Value" lines joined by
// line breaks, in sorted key order for stable output.
func flattenHeaders(headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+": "+headers[k])
	}

	return strings.Join(pairs, "\n")
}
