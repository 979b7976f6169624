// Package fetch performs single GraphQL requests against subgraphs.
//
// A Fetcher is at-most-once: it never retries. Failures are classified into
// *FetchError values; GraphQL errors returned by a subgraph in an otherwise
// valid response are not failures and come back in Response.Errors with the
// subgraph-relative path they were reported at.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanpama/fedgate/internal/response"
)

// ErrUnknownService is returned when a service name has no endpoint.
var ErrUnknownService = errors.New("fetch: unknown service")

// Fetcher sends one operation to one subgraph.
type Fetcher interface {
	Fetch(ctx context.Context, service string, req *Request) (*Response, error)
}

// Request is the GraphQL request body sent to a subgraph.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a decoded subgraph response.
type Response struct {
	Data       map[string]any
	Errors     []response.Error
	Extensions map[string]any
}

// Kind classifies fetch failures.
type Kind int

const (
	// ServiceUnavailable covers transport failures and per-fetch timeouts.
	ServiceUnavailable Kind = iota + 1
	// InvalidResponse covers non-2xx statuses and malformed bodies.
	InvalidResponse
)

func (k Kind) String() string {
	switch k {
	case ServiceUnavailable:
		return "ServiceUnavailable"
	case InvalidResponse:
		return "InvalidResponse"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error extension codes.
const (
	CodeHTTPError         = "SUBREQUEST_HTTP_ERROR"
	CodeMalformedResponse = "SUBREQUEST_MALFORMED_RESPONSE"
)

// FetchError is a failed subgraph fetch.
type FetchError struct {
	Service    string
	Kind       Kind
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Extensions returns the error extensions reported to clients.
func (e *FetchError) Extensions() map[string]any {
	ext := map[string]any{"code": e.Code, "service": e.Service}
	if e.StatusCode != 0 {
		ext["http"] = map[string]any{"status": e.StatusCode}
	}
	return ext
}

// ClientMessage is the message reported to clients. It names the subgraph
// but leaves out transport details.
func (e *FetchError) ClientMessage() string {
	return fmt.Sprintf("HTTP fetch failed from '%s': %s", e.Service, e.Message)
}

func unavailable(service, msg string, err error) *FetchError {
	return &FetchError{Service: service, Kind: ServiceUnavailable, Code: CodeHTTPError, Message: msg, Err: err}
}

func invalid(service, code, msg string, status int, err error) *FetchError {
	return &FetchError{Service: service, Kind: InvalidResponse, Code: code, Message: msg, StatusCode: status, Err: err}
}
