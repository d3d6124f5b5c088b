package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/tracing"
)

// httpDoer lets adapter tests swap the transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// newUpstreamClient builds the shared http.Client used by all adapters, with
// connection pooling tuned for a handful of upstream hosts. The client
// timeout is a backstop only; the resilient executor owns the real deadline.
func newUpstreamClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   120 * time.Second,
	}
}

// sharedClient is reused by every adapter so connections pool across calls.
var sharedClient = newUpstreamClient()

// doJSON posts a JSON payload to url, decodes a successful response into
// out, and maps failure statuses to UpstreamError. headers are set verbatim
// after Content-Type.
func doJSON(ctx context.Context, client httpDoer, providerName, method, url string, headers map[string]string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", providerName, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", providerName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	tracing.InjectHeaders(ctx, req)

	ctx, span := tracing.StartUpstreamSpan(ctx, url, providerName)
	defer span.End()

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("%s: request to %s: %w", providerName, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", providerName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		uerr := upstreamErrorFromBody(providerName, resp.StatusCode, data)
		tracing.RecordError(ctx, uerr)
		return uerr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", providerName, err)
		}
	}
	return nil
}

// wireError is the error envelope most providers use; both OpenAI-style
// ("error": {...}) and flat shapes are covered.
type wireError struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Type    string          `json:"type"`
		Message string          `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// upstreamErrorFromBody builds an UpstreamError from a failure response,
// preserving the upstream-provided code and message when parseable.
func upstreamErrorFromBody(providerName string, statusCode int, body []byte) *UpstreamError {
	ue := &UpstreamError{
		Provider:   providerName,
		StatusCode: statusCode,
		Retryable:  IsRetryableStatus(statusCode),
		Message:    http.StatusText(statusCode),
	}

	var we wireError
	if err := json.Unmarshal(body, &we); err == nil {
		if we.Error.Message != "" {
			ue.Message = we.Error.Message
		} else if we.Message != "" {
			ue.Message = we.Message
		}
		if len(we.Error.Code) > 0 {
			// Code may be a string or a number depending on the provider.
			var s string
			if json.Unmarshal(we.Error.Code, &s) == nil {
				ue.Code = s
			} else {
				ue.Code = string(we.Error.Code)
			}
		} else if we.Error.Type != "" {
			ue.Code = we.Error.Type
		}
	}
	return ue
}
