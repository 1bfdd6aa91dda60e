package circuitbreaker

import (
	"fmt"
	"net/http"
)

// Transport is an http.RoundTripper guarded by a CircuitBreaker. Transport
// errors and 5xx responses count as failures; 4xx responses are returned
// to the caller untouched and count as successes.
type Transport struct {
	Base    http.RoundTripper
	Breaker *CircuitBreaker
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, breaker *CircuitBreaker) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Breaker: breaker}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := t.Breaker.Execute(req.Context(), func() error {
		var err error
		resp, err = t.Base.RoundTrip(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%s: upstream returned %d", t.Breaker.Name(), resp.StatusCode)
		}
		return nil
	})
	if err != nil && resp != nil && resp.StatusCode >= http.StatusInternalServerError {
		// Hand the 5xx back so the caller can read the provider's error body.
		return resp, nil
	}
	return resp, err
}
