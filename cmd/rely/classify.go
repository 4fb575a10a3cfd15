package main

import (
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"rely/internal/llm/retry"
)

// classifyPayload feeds a raw CLI payload to the decision engine: JSON
// documents are probed structurally, anything else is treated as a bare
// error message.
func classifyPayload(payload string) retry.Classification {
	trimmed := strings.TrimSpace(payload)
	if gjson.Valid(trimmed) && strings.HasPrefix(trimmed, "{") {
		return retry.Classify([]byte(trimmed))
	}
	return retry.Classify(trimmed)
}

func readAll(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
