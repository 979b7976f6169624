package server

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/reqctx"
	"github.com/hanpama/fedgate/internal/response"
	"github.com/hanpama/fedgate/internal/router"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RequestIDHeader carries the request ID to subgraphs and back to clients.
const RequestIDHeader = "Graphql-Request-Id"

// Executor runs one client operation.
type Executor interface {
	ExecuteOperation(ctx context.Context, req *router.Request) *router.Response
}

// Handler is an http.Handler that serves a GraphQL endpoint.
// It parses requests, runs them through the router, and formats responses
// per GraphQL over HTTP.
type Handler struct {
	exec Executor
	opt  Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// ForwardHeaders lists HTTP headers forwarded to every subgraph request.
	// Header names are case-insensitive. Default is none.
	ForwardHeaders []string
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithForwardHeaders(headers ...string) Option {
	return func(o *Options) { o.ForwardHeaders = headers }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a new GraphQL HTTP handler serving operations through exec.
func New(exec Executor, opts ...Option) *Handler {
	var op Options
	for _, f := range opts {
		f(&op)
	}
	return &Handler{exec: exec, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, info := reqctx.NewContext(ctx, reqctx.Forward(r.Header, h.opt.ForwardHeaders))
	rid := strconv.FormatInt(info.ID, 10)
	info.Headers.Set(RequestIDHeader, rid)
	w.Header().Set(RequestIDHeader, rid)

	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResult("method not allowed"), h.opt.Pretty)
		return
	}

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != "" {
		status = http.StatusBadRequest
		if berr == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResult(berr), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batch != nil {
		out := make([]*router.Response, len(batch))
		for i := range batch {
			out[i] = h.exec.ExecuteOperation(ctx, batch[i])
		}
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}

	writeJSON(w, status, h.exec.ExecuteOperation(ctx, req), h.opt.Pretty)
}

// ------------------ Request parsing ------------------

func parseRequest(r *http.Request, maxBody int64) (*router.Request, []*router.Request, string) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		if q.Get("query") == "" {
			return nil, nil, "missing 'query'"
		}
		req := &router.Request{Query: q.Get("query"), OperationName: q.Get("operationName")}
		if v := q.Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				return nil, nil, "invalid 'variables' JSON"
			}
		}
		if v := q.Get("extensions"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Extensions); err != nil {
				return nil, nil, "invalid 'extensions' JSON"
			}
		}
		return req, nil, ""
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return nil, nil, "unsupported Content-Type"
	}
	defer r.Body.Close()
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, "failed to read body"
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, nil, errBodyTooLargeMessage
	}

	// Try array (batch)
	if len(body) > 0 && body[0] == '[' {
		var arr []*router.Request
		if err := json.Unmarshal(body, &arr); err != nil {
			return nil, nil, "invalid JSON"
		}
		if len(arr) == 0 {
			return nil, nil, "empty batch"
		}
		for _, req := range arr {
			if req == nil || req.Query == "" {
				return nil, nil, "missing 'query'"
			}
		}
		return nil, arr, ""
	}
	var req router.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, "invalid JSON"
	}
	if req.Query == "" {
		return nil, nil, "missing 'query'"
	}
	return &req, nil, ""
}

// ------------------ Response formatting ------------------

func errorResult(message string) *router.Response {
	return &router.Response{Errors: []response.Error{{Message: message}}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
