// Package http: GraphQL-клиент поверх HTTP POST для query и mutation.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cwrk-planet/chat-client/internal/gql"
	"github.com/cwrk-planet/chat-client/pkg/errs"
	"github.com/cwrk-planet/chat-client/pkg/httputil"
	"github.com/cwrk-planet/chat-client/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName   = "github.com/cwrk-planet/chat-client/internal/transport/http"
	maxBodyBytes = 4 << 20
)

type Options struct {
	Endpoint   string        // http://localhost:4010/graphql
	Timeout    time.Duration // на один вызов
	HTTPClient *http.Client
}

type Client struct {
	endpoint string
	timeout  time.Duration
	hc       *http.Client
	tracer   trace.Tracer
}

func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("%w: graphql client: empty endpoint", errs.ErrInvalidInput)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	return &Client{
		endpoint: opts.Endpoint,
		timeout:  opts.Timeout,
		hc:       opts.HTTPClient,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

func (c *Client) Query(ctx context.Context, op gql.Operation, vars map[string]any, out any) error {
	return c.Do(ctx, op, vars, out)
}

func (c *Client) Mutate(ctx context.Context, op gql.Operation, vars map[string]any, out any) error {
	return c.Do(ctx, op, vars, out)
}

// Do выполняет операцию и декодирует data в out (если out != nil).
//
// Ошибки: сеть и не-2xx без errors -> errs.ErrTransport, массив errors ->
// errs.ErrGraphQL (исходные gql.Errors доступны через errors.As),
// data: null -> errs.ErrNoData.
func (c *Client) Do(ctx context.Context, op gql.Operation, vars map[string]any, out any) (err error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	callCtx, reqID := httputil.EnsureRequestID(callCtx)
	callCtx, span := c.tracer.Start(callCtx, "graphql "+op.Name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("graphql.operation.name", op.Name),
			attribute.String("request.id", reqID),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, errs.Kind(err))
		}
		span.End()
	}()

	log := logger.FromContext(callCtx).With(slog.String("op", op.Name), slog.String("req_id", reqID))
	start := time.Now()
	defer func() {
		if err != nil {
			log.Debug("graphql call failed", slog.String("kind", errs.Kind(err)), slog.Any("err", err), slog.Duration("duration", time.Since(start)))
			return
		}
		log.Debug("graphql call", slog.Duration("duration", time.Since(start)))
	}()

	body, err := json.Marshal(gql.NewRequest(op, vars))
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", errs.ErrInvalidInput, err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(httputil.HeaderRequestID, reqID)

	res, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	defer res.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errs.ErrTransport, err)
	}

	var resp gql.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		if res.StatusCode/100 != 2 {
			return fmt.Errorf("%w: status %d", errs.ErrTransport, res.StatusCode)
		}
		return fmt.Errorf("%w: decode response: %v", errs.ErrTransport, err)
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("%w: %w", errs.ErrGraphQL, resp.Errors)
	}
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("%w: status %d", errs.ErrTransport, res.StatusCode)
	}
	if !resp.HasData() {
		return fmt.Errorf("%w: %s", errs.ErrNoData, op.Name)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", errs.ErrTransport, err)
	}

	return nil
}
