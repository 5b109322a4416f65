// Package rest provides the small set of JSON request/response helpers used
// by the cluster's plain HTTP endpoints (/health on both the client gateway
// and the inter-node RPC listener).
package rest

import (
	"encoding/json"
	"net/http"
)

// Envelope is the top-level shape of every REST JSON response body.
type Envelope map[string]any

// WriteJSON marshals data as the given envelope and writes it with status.
func WriteJSON(w http.ResponseWriter, status int, data Envelope) error {
	js, err := json.Marshal(data)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(js)
	return err
}

// ReadJSON decodes the request body into dst, rejecting unknown fields and
// trailing data so malformed client payloads fail fast.
func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}

	if dec.More() {
		return errTrailingData
	}

	return nil
}

var errTrailingData = jsonTrailingDataError{}

type jsonTrailingDataError struct{}

func (jsonTrailingDataError) Error() string { return "body must contain a single JSON value" }
