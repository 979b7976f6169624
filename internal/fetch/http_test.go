package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/fedgate/internal/plan"
	"github.com/hanpama/fedgate/internal/reqctx"
	"github.com/hanpama/fedgate/internal/response"
)

func newTestFetcher(t *testing.T, url string, opts ...Option) *HTTPFetcher {
	t.Helper()
	reg := NewStaticRegistry(map[string]string{"products": url})
	f, err := NewHTTPFetcher(append([]Option{WithRegistry(reg)}, opts...)...)
	require.NoError(t, err)
	return f
}

func TestFetchSuccess(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"topProducts":[{"upc":"1"}]},"errors":[{"message":"partial","path":["topProducts",0,"name"]}]}`))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	ctx, _ := reqctx.NewContext(context.Background(), http.Header{"Authorization": {"Bearer t"}})
	resp, err := f.Fetch(ctx, "products", &Request{
		Query:     "query($n:Int){topProducts(first:$n){upc}}",
		Variables: map[string]any{"n": 1},
	})
	require.NoError(t, err)

	want := &Response{
		Data: map[string]any{"topProducts": []any{map[string]any{"upc": "1"}}},
		Errors: []response.Error{
			{Message: "partial", Path: plan.Path{"topProducts", 0, "name"}},
		},
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "Bearer t", gotAuth)
	require.Equal(t, "query($n:Int){topProducts(first:$n){upc}}", gotBody["query"])
	require.Equal(t, map[string]any{"n": 1.0}, gotBody["variables"])
}

func TestFetchClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
		code   string
	}{
		{"non-2xx", http.StatusBadGateway, `{"data":null}`, InvalidResponse, CodeHTTPError},
		{"malformed body", http.StatusOK, `<html>`, InvalidResponse, CodeMalformedResponse},
		{"empty object", http.StatusOK, `{}`, InvalidResponse, CodeMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestFetcher(t, srv.URL).Fetch(context.Background(), "products", &Request{Query: "{a}"})
			var fe *FetchError
			require.True(t, errors.As(err, &fe), "error %v", err)
			require.Equal(t, tt.kind, fe.Kind)
			require.Equal(t, tt.code, fe.Code)
			require.Equal(t, "products", fe.Service)
		})
	}
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestFetcher(t, url).Fetch(context.Background(), "products", &Request{Query: "{a}"})
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, ServiceUnavailable, fe.Kind)
	require.Equal(t, CodeHTTPError, fe.Extensions()["code"])
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestFetcher(t, srv.URL, WithTimeout(20*time.Millisecond)).
		Fetch(context.Background(), "products", &Request{Query: "{a}"})
	var fe *FetchError
	require.True(t, errors.As(err, &fe), "error %v", err)
	require.Equal(t, ServiceUnavailable, fe.Kind)
	require.Equal(t, "request timed out", fe.Message)
}

func TestFetchParentCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := newTestFetcher(t, srv.URL).Fetch(ctx, "products", &Request{Query: "{a}"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchUnknownService(t *testing.T) {
	f := newTestFetcher(t, "http://unused")
	_, err := f.Fetch(context.Background(), "reviews", &Request{Query: "{a}"})
	require.ErrorIs(t, err, ErrUnknownService)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, ServiceUnavailable, fe.Kind)
}

func TestNewHTTPFetcherRequiresRegistry(t *testing.T) {
	_, err := NewHTTPFetcher()
	require.Error(t, err)
}

func TestMockFetcher(t *testing.T) {
	m := NewMockFetcher(map[string]MockHandler{
		"products": MockData(map[string]any{"a": 1.0}),
	})
	resp, err := m.Fetch(context.Background(), "products", &Request{Query: "{a}", Variables: map[string]any{"x": 1}})
	require.NoError(t, err)
	require.Equal(t, 1.0, resp.Data["a"])

	_, err = m.Fetch(context.Background(), "reviews", &Request{Query: "{b}"})
	require.ErrorIs(t, err, ErrUnknownService)

	calls := m.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "products", calls[0].Service)
	require.Equal(t, 1, m.CallCount("reviews"))
}
