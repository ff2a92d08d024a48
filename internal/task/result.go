package task

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
)

// Result is the tagged outcome of running a task body: exactly one of
// Return or Raise is populated, mirroring the wire contract's
// {"return": value} / {"raise": traceback_text} mapping.
type Result struct {
	Return json.RawMessage `json:"return,omitempty"`
	Raise  string          `json:"raise,omitempty"`
}

// ErrMalformedResult is returned when stored bytes don't decompress or
// decode into a valid Result; callers treat this the same as no result.
var ErrMalformedResult = errors.New("task: malformed result payload")

// NewReturn wraps a successful outcome.
func NewReturn(value any) (*Result, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return &Result{Return: raw}, nil
}

// NewRaise wraps a failed outcome; text is the formatted error/traceback.
func NewRaise(text string) *Result {
	return &Result{Raise: text}
}

func (r *Result) IsRaise() bool {
	return r != nil && r.Raise != ""
}

// Pack gzip-compresses the JSON encoding of the result, the Go analogue
// of the original's gzip(pickle(...)) wire format: any deterministic
// self-describing format is acceptable within one implementation.
func Pack(r *Result) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unpack reverses Pack. A decode failure is reported as
// ErrMalformedResult, not the underlying gzip/json error, so every
// caller along the result-transport boundary can treat it uniformly as
// "no usable result".
func Unpack(blob []byte) (*Result, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, ErrMalformedResult
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, ErrMalformedResult
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, ErrMalformedResult
	}
	return &r, nil
}
