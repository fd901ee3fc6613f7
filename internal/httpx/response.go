package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	body       []byte
}

func (r *Response) Body() []byte { return r.body }

func (r *Response) String() string { return string(r.body) }

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// JSON decodes the body as a JSON object.
func (r *Response) JSON() (map[string]any, error) {
	var m map[string]any
	if err := r.DecodeJSON(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// Value returns a top-level key of a JSON object body (nil when absent).
func (r *Response) Value(key string) (any, error) {
	m, err := r.JSON()
	if err != nil {
		return nil, err
	}
	return m[key], nil
}
