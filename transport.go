package goBankID

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxResponseBytes = 1 << 20

// Transport sends one request to the authority and decodes the answer into
// response. Implementations classify failures: a structured rejection is a
// *ProtocolError, anything that produced no usable answer is a *TransportError.
// A nil response discards the body.
type Transport interface {
	Call(ctx context.Context, method Method, request any, response any) error
}

// HTTPTransport is the JSON-over-HTTPS Transport. Mutual TLS is configured on
// the supplied *http.Client (see NewMTLSHTTPClient).
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport returns a transport posting to baseURL + method. A nil
// client means http.DefaultClient.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HTTPTransport{baseURL: baseURL, client: client}
}

// BaseURL returns the API root requests are sent to.
func (t *HTTPTransport) BaseURL() string {
	return t.baseURL
}

func (t *HTTPTransport) Call(ctx context.Context, method Method, request any, response any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return &TransportError{Method: method, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+string(method), bytes.NewReader(body))
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := t.client.Do(req)
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return protocolError(method, res.StatusCode, data)
	}

	if response == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, response); err != nil {
		return &TransportError{Method: method, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// protocolError turns a non-2xx answer into a *ProtocolError. When the body is
// not the documented {errorCode, details} shape the code is derived from the
// HTTP status.
func protocolError(method Method, status int, body []byte) error {
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.ErrorCode != "" {
		return &ProtocolError{
			Method:     method,
			StatusCode: status,
			Code:       payload.ErrorCode,
			Details:    payload.Details,
		}
	}
	return &ProtocolError{
		Method:     method,
		StatusCode: status,
		Code:       errorCodeForStatus(status),
		Details:    strings.TrimSpace(http.StatusText(status)),
	}
}

func errorCodeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return ErrorInvalidParameters
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorUnauthorized
	case http.StatusNotFound:
		return ErrorNotFound
	case http.StatusMethodNotAllowed:
		return ErrorMethodNotAllowed
	case http.StatusRequestTimeout:
		return ErrorRequestTimeout
	case http.StatusUnsupportedMediaType:
		return ErrorUnsupportedMediaType
	case http.StatusServiceUnavailable:
		return ErrorMaintenance
	default:
		return ErrorInternalError
	}
}

// classify reports which metric a failed call belongs to.
func classify(err error) (MetricID, bool) {
	switch {
	case errors.Is(err, ErrProtocol):
		return MetricProtocolError, true
	case errors.Is(err, ErrTransport):
		return MetricTransportError, true
	default:
		return 0, false
	}
}
