package transmission

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Data is a decrypted platform payload. Numbers keep their textual JSON form.
type Data map[string]interface{}

// String returns the field as text. Numbers are rendered as sent.
func (d Data) String(key string) (string, error) {
	switch v := d[key].(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case nil:
		return "", fmt.Errorf("%s is missing", key)
	default:
		return "", fmt.Errorf("%s has unexpected type %T", key, v)
	}
}

// Uint parses the field as a non-negative integer.
func (d Data) Uint(key string) (uint, error) {
	s, err := d.String(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, 0)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return uint(n), nil
}

// Time reads the field as UNIX epoch seconds.
func (d Data) Time(key string) (time.Time, error) {
	f, err := toFloat(d[key])
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be epoch seconds", key)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
}
