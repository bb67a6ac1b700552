// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Resolver 把逻辑服务名解析为 base URL，例如 "http://10.0.0.3:8080"。
type Resolver interface {
	Resolve(service string) (string, error)
}

// StaticResolver 使用配置文件中的固定地址。
type StaticResolver map[string]string

func (r StaticResolver) Resolve(service string) (string, error) {
	base, ok := r[service]
	if !ok || base == "" {
		return "", fmt.Errorf("no endpoint configured for service %q", service)
	}
	return strings.TrimRight(base, "/"), nil
}

// StatusError 表示下游返回了非 2xx 状态码。
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service %s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Client 是一个可追踪的、可注入的 JSON HTTP 客户端
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	Resolver   Resolver
}

// NewClient 创建一个新的客户端实例。http.Client 不设置整体超时，由每次请求的 context 和 timeout 控制。
func NewClient(tracer trace.Tracer, resolver Resolver) *Client {
	return &Client{
		Tracer: tracer,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Resolver: resolver,
	}
}

// Do 以 JSON 发送 in，并把 2xx 响应体解码到 out（out 可以为 nil）。
func (c *Client) Do(ctx context.Context, method, service, path string, in, out any) error {
	base, err := c.Resolver.Resolve(service)
	if err != nil {
		return err
	}
	target := base + path

	ctx, span := c.Tracer.Start(ctx, fmt.Sprintf("call-%s", service), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.url", target),
		attribute.String("http.method", method),
	)

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		span.RecordError(err)
		return errors.Wrapf(err, "build request %s %s", method, target)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "%s %s", method, target)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{Service: service, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		span.RecordError(statusErr)
		span.SetStatus(codes.Error, statusErr.Error())
		return statusErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode response from %s", service)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, service, path string, out any) error {
	return c.Do(ctx, http.MethodGet, service, path, nil, out)
}

func (c *Client) Post(ctx context.Context, service, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, service, path, in, out)
}

func (c *Client) Put(ctx context.Context, service, path string, in, out any) error {
	return c.Do(ctx, http.MethodPut, service, path, in, out)
}

func (c *Client) Delete(ctx context.Context, service, path string) error {
	return c.Do(ctx, http.MethodDelete, service, path, nil, nil)
}
