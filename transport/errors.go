package transport

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-larkauth/core"
)

// transportError reports a failure raised locally before or after the wire
// exchange: bad request input, oversized bodies, missing wiring. Never
// retried.
func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(core.ErrorTransport)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(core.ErrorTransport)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// classifyNetworkError maps a client.Do failure to a NetworkError, telling
// connect failures apart from read failures.
func classifyNetworkError(method string, url string, err error, requestTimedOut bool) error {
	phase := core.TimeoutPhaseRead
	timeout := false

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		phase = core.TimeoutPhaseConnect
		timeout = opErr.Timeout()
	} else {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			timeout = true
		}
	}
	if requestTimedOut {
		phase = core.TimeoutPhaseRequest
		timeout = true
	}
	return core.NewNetworkError(method, url, phase, timeout, err)
}

type vendorEnvelope struct {
	Code    *int   `json:"code"`
	Msg     string `json:"msg"`
	Message string `json:"message"`
}

// apiErrorFromResponse builds an APIError for a non-success HTTP status,
// reading the vendor code and message from the JSON envelope when present.
func apiErrorFromResponse(res core.Response, requestID string) *core.APIError {
	apiErr := &core.APIError{
		StatusCode: res.StatusCode,
		RequestID:  requestID,
	}
	var envelope vendorEnvelope
	if len(res.Body) > 0 && json.Unmarshal(res.Body, &envelope) == nil {
		if envelope.Code != nil {
			apiErr.Code = *envelope.Code
		}
		apiErr.Message = strings.TrimSpace(envelope.Msg)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(envelope.Message)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(res.StatusCode)
	}
	if vendorID := res.Header("X-Tt-Logid"); vendorID != "" {
		apiErr.RequestID = vendorID
	}
	return apiErr
}
