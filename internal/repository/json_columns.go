package repository

import (
	"encoding/json"
	"strings"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

// decodeList reads a JSON array column. Older rows may hold the array
// encoded as a JSON string (sometimes twice), and corrupt rows are treated as
// empty: steps, history and images are derived state that the approval flow
// can rebuild. ok is false when the raw value could not be decoded.
func decodeList[T any](raw []byte) (out []T, ok bool) {
	data := raw
	for i := 0; i < 3; i++ {
		trimmed := strings.TrimSpace(string(data))
		if trimmed == "" || trimmed == "null" {
			return []T{}, true
		}
		if strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
				return []T{}, false
			}
			if out == nil {
				out = []T{}
			}
			return out, true
		}
		if !strings.HasPrefix(trimmed, `"`) {
			return []T{}, false
		}
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return []T{}, false
		}
		data = []byte(inner)
	}
	return []T{}, false
}

// encodeList writes a JSON array column, never emitting null.
func encodeList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

func encodeDiff(d EditDiff) (string, error) {
	if d.Changed == nil {
		d.Changed = []FieldChange{}
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal edit diff")
	}
	return string(raw), nil
}

// decodeDiff reads a stored diff; unreadable values yield an empty diff.
func decodeDiff(raw []byte) EditDiff {
	var d EditDiff
	if err := json.Unmarshal(raw, &d); err != nil || d.Changed == nil {
		return EditDiff{Changed: []FieldChange{}}
	}
	return d
}
