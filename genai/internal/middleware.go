// Package internal provides the shared HTTP middleware plumbing used by the
// provider integrations.
package internal

import (
	"bytes"
	"io"
	"net/http"

	"github.com/openlit/openlit-go/diag"
)

// RouteTracer instruments one endpoint's request/response lifecycle.
type RouteTracer interface {
	// StartSpan parses the outgoing request body from body and begins
	// telemetry. The returned context carries the span for the rest of
	// the call.
	StartSpan(req *http.Request, body io.Reader) (*http.Request, error)

	// WrapResponse wraps the response body so telemetry finalizes exactly
	// once, when the body is exhausted, closed early, or fails mid-read.
	WrapResponse(body io.ReadCloser) io.ReadCloser

	// Fail finalizes telemetry for a request that produced no response.
	Fail(err error)
}

// NextMiddleware represents the next middleware in the client middleware chain.
type NextMiddleware = func(req *http.Request) (*http.Response, error)

// Router maps URL paths to route tracers. Returning nil leaves the request
// untraced.
type Router func(path string) RouteTracer

// Middleware creates a client middleware that routes each request through the
// tracer for its endpoint. Untraced requests pass through untouched.
func Middleware(route Router) func(*http.Request, NextMiddleware) (*http.Response, error) {
	return func(req *http.Request, next NextMiddleware) (*http.Response, error) {
		var rt RouteTracer
		if req.URL != nil {
			rt = route(req.URL.Path)
		}

		// Requests with a nil body carry no data worth tracing.
		if rt == nil || req.Body == nil {
			return next(req)
		}

		var buf bytes.Buffer
		reqBody := req.Body
		defer func() {
			_ = reqBody.Close()
		}()

		// As the tracer reads from tee, buf fills with the body bytes the
		// transport will send.
		tee := io.TeeReader(reqBody, &buf)

		traced, err := rt.StartSpan(req, tee)
		if err != nil {
			diag.Warnf("error starting span: %v", err)
		}
		if traced != nil {
			req = traced
		}

		// A JSON decoder may stop short of EOF; drain the remainder so buf
		// holds the complete body.
		if _, err := io.Copy(io.Discard, tee); err != nil {
			rt.Fail(err)
			return nil, err
		}
		req.Body = io.NopCloser(&buf)

		resp, err := next(req)
		if err != nil {
			rt.Fail(err)
			return resp, err
		}

		// Don't parse the response here; streaming bodies must reach the
		// caller as they arrive.
		resp.Body = rt.WrapResponse(resp.Body)
		return resp, nil
	}
}
