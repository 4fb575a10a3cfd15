package anthropicprovider

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"rely/internal/llm/retry"
)

// classifyProviderError folds typed SDK knowledge into the generic verdict:
// the HTTP status code and Retry-After header are authoritative when the
// transport error carries them.
func classifyProviderError(v any) retry.Classification {
	err, ok := v.(error)
	if !ok {
		return retry.Classify(v)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		c := retry.Classify(apiErr)
		if isRetryableStatus(apiErr.StatusCode) {
			c.Retryable = true
		}
		if c.RetryAfter == 0 {
			c.RetryAfter = retryAfterFromResponse(apiErr.Response)
		}
		return c
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		c := retry.Classify(err)
		c.Retryable = true
		return c
	}

	return retry.Classify(err)
}

// isRetryableStatus identifies transient API failures worth retrying.
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// retryAfterFromResponse reads a whole-seconds Retry-After header.
func retryAfterFromResponse(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
