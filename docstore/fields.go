package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/spf13/cast"
)

// IntField reads name as an int64. A missing or null field is 0.
func IntField(f Fields, name string) (int64, error) {
	v, ok := f[name]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case string, bool:
		return 0, fmt.Errorf("%w: %q holds %T", ErrNotInteger, name, v)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q holds %s", ErrNotInteger, name, n)
		}
		return i, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %q holds %v", ErrNotInteger, name, n)
		}
	case float32:
		if float64(n) != math.Trunc(float64(n)) {
			return 0, fmt.Errorf("%w: %q holds %v", ErrNotInteger, name, n)
		}
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrNotInteger, name, err)
	}
	return i, nil
}

// StringField reads name as a string; missing or non-string values yield "".
func StringField(f Fields, name string) string {
	s, _ := f[name].(string)
	return s
}

// DecodeFields parses a JSON object, keeping numbers as json.Number so
// integers survive the round trip unchanged.
func DecodeFields(data []byte) (Fields, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Fields{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var f Fields
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	if f == nil {
		f = Fields{}
	}
	return f, nil
}
