package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/hanpama/fedgate/internal/plan"
	"github.com/hanpama/fedgate/internal/reqctx"
	"github.com/hanpama/fedgate/internal/response"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPFetcher sends subgraph requests as GraphQL over HTTP POST.
type HTTPFetcher struct {
	opt *Options
}

// NewHTTPFetcher creates an HTTPFetcher. A Registry is required.
func NewHTTPFetcher(opts ...Option) (*HTTPFetcher, error) {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.Registry == nil {
		return nil, errors.New("fetch: registry is required")
	}
	return &HTTPFetcher{opt: o}, nil
}

type wireError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type wireResponse struct {
	Data       *map[string]any `json:"data"`
	Errors     []wireError     `json:"errors"`
	Extensions map[string]any  `json:"extensions"`
}

// Fetch performs one POST. The returned error is always a *FetchError unless
// ctx itself was cancelled, in which case ctx.Err() is returned.
func (f *HTTPFetcher) Fetch(ctx context.Context, service string, req *Request) (*Response, error) {
	url, err := f.opt.Registry.Resolve(service)
	if err != nil {
		return nil, unavailable(service, "no endpoint configured", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, invalid(service, CodeMalformedResponse, "cannot encode request", 0, err)
	}

	fctx := ctx
	if f.opt.Timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, f.opt.Timeout)
		defer cancel()
	}

	hreq, err := http.NewRequestWithContext(fctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, unavailable(service, "invalid endpoint", err)
	}
	for k, vs := range f.opt.Headers {
		hreq.Header[k] = append([]string(nil), vs...)
	}
	if info, ok := reqctx.FromContext(ctx); ok {
		for k, vs := range info.Headers {
			hreq.Header[k] = append([]string(nil), vs...)
		}
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/graphql-response+json, application/json")

	resp, err := f.opt.Client.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, unavailable(service, "request timed out", err)
		}
		return nil, unavailable(service, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.opt.MaxResponseBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable(service, "reading response failed", err)
	}
	if int64(len(raw)) > f.opt.MaxResponseBytes {
		return nil, invalid(service, CodeMalformedResponse, "response too large", resp.StatusCode, nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, invalid(service, CodeHTTPError, fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)), resp.StatusCode, nil)
	}
	return decodeResponse(service, raw)
}

func decodeResponse(service string, raw []byte) (*Response, error) {
	var w wireResponse
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, invalid(service, CodeMalformedResponse, "invalid JSON in response", 0, err)
	}
	if w.Data == nil && len(w.Errors) == 0 {
		return nil, invalid(service, CodeMalformedResponse, "response has neither data nor errors", 0, nil)
	}
	out := &Response{Extensions: w.Extensions}
	if w.Data != nil {
		out.Data = *w.Data
	}
	for _, e := range w.Errors {
		out.Errors = append(out.Errors, response.Error{
			Message:    e.Message,
			Path:       plan.ParsePath(e.Path),
			Extensions: e.Extensions,
		})
	}
	return out, nil
}
