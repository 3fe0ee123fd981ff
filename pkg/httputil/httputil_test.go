package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cwrk-planet/chat-client/pkg/errs"
)

func TestMiddlewareRequestID_GeneratesAndPropagates(t *testing.T) {
	var seen string
	h := MiddlewareRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(HeaderRequestID) != seen {
		t.Fatalf("generated id not propagated: ctx=%q header=%q", seen, rec.Header().Get(HeaderRequestID))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc" {
		t.Fatalf("incoming id not kept, got %q", seen)
	}
}

func TestEnsureRequestID(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatalf("empty id")
	}
	if _, again := EnsureRequestID(ctx); again != id {
		t.Fatalf("existing id replaced: %q -> %q", id, again)
	}
}

func TestFail_EnvelopeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	Fail(rec, fmt.Errorf("%w: bad text", errs.ErrInvalidInput))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Kind    string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Kind != "invalid_input" || body.Error.Message != "invalid input: bad text" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestStatusOf(t *testing.T) {
	cases := map[error]int{
		errs.ErrInvalidInput:       http.StatusBadRequest,
		errs.ErrNoData:             http.StatusNotFound,
		errs.ErrTransport:          http.StatusBadGateway,
		errs.ErrGraphQL:            http.StatusBadGateway,
		context.DeadlineExceeded:   http.StatusGatewayTimeout,
		errors.New("something"):    http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := StatusOf(err); got != want {
			t.Fatalf("%v: status %d, want %d", err, got, want)
		}
	}
}

func TestDecodeJSON_RejectsGarbageAndOversize(t *testing.T) {
	var dst map[string]any

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	if err := DecodeJSON(httptest.NewRecorder(), req, &dst, 1024); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("garbage: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`))
	if err := DecodeJSON(httptest.NewRecorder(), req, &dst, 16); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("oversize: %v", err)
	}
}

func TestMiddlewareLogging_KeepsStatus(t *testing.T) {
	h := MiddlewareLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); ok {
			t.Errorf("request id appears without MiddlewareRequestID")
		}
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}
