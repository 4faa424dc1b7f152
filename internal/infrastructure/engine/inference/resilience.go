package inference

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/docscan/internal/core/domain"
	"github.com/kirillkom/docscan/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "inference status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("inference %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("inference %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

func newHTTPStatusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

// sidecarErrors retries transport failures and overload statuses. A 4xx that is not an
// overload signal means the sidecar rejected the payload.
var sidecarErrors = resilience.ErrorRules{
	Transient: func(err error) bool {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			return isRetryableHTTPStatus(statusErr.StatusCode)
		}
		var netErr net.Error
		return errors.As(err, &netErr)
	},
	Rejected: isRejectedPayload,
}

func isRejectedPayload(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) &&
		statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 &&
		!isRetryableHTTPStatus(statusErr.StatusCode)
}

// classifyError maps a failed sidecar call onto the domain error kinds.
func classifyError(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrInvalidInput) {
		return err
	}
	if isRejectedPayload(err) {
		return domain.WrapError(domain.ErrInvalidInput, operation, err)
	}
	return sidecarErrors.Temporary(operation, err)
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
