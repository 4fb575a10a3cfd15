package retry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Classification is the retry verdict for one provider failure.
type Classification struct {
	Retryable bool
	Message   string
	// RetryAfter is the provider-suggested wait before the next attempt.
	// Zero means no hint was found.
	RetryAfter time.Duration
}

// retryableStatusCodes are the HTTP statuses treated as transient.
var retryableStatusCodes = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// rateLimitSubstrings are checked case-insensitively against the extracted message.
var rateLimitSubstrings = []string{
	"rate limit",
	"too many requests",
	"throttle",
	"429",
	"tpm",
	"tokens per minute",
	"quota exceeded",
	"resource exhausted",
	"overloaded",
}

// sdkErrorTokens are machine-readable error types emitted by provider SDKs.
var sdkErrorTokens = []string{
	"rate_limit_error",
	"rate_limit_exceeded",
	"overloaded_error",
	"throttling_exception",
	"resource_exhausted",
	"resource_has_been_exhausted",
	"tokens_per_minute",
}

// cjkRateLimitPhrases cover localized rate-limit messages from CN-hosted
// providers: quota, frequency, rate/speed limited, "please wait", "retry".
var cjkRateLimitPhrases = []string{
	"配额",
	"频率",
	"限流",
	"限速",
	"请稍后",
	"重试",
}

var (
	httpStatusInMessageRe = regexp.MustCompile(`(?i)\bHTTP\s+(\d{3})\b`)

	looseRateLimitRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)api\s+rate\s+limit`),
		regexp.MustCompile(`(?i)too\s+many\s+requests`),
		regexp.MustCompile(`(?i)tpm\s+limit`),
		regexp.MustCompile(`(?i)tokens?\s+per\s+min(ute)?`),
		regexp.MustCompile(`(?i)rate\s*limit(ed)?(\s+(exceeded|error))?`),
		regexp.MustCompile(`(?i)overloaded`),
		regexp.MustCompile(`(?i)service\s+unavailable`),
		regexp.MustCompile(`(?i)temporarily\s+overloaded`),
	}

	httpReasonPhraseRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)502.*bad\s+gateway`),
		regexp.MustCompile(`(?i)503.*(service\s+unavailable|temporarily\s+overloaded)`),
	}

	retryAfterInMessageRe = regexp.MustCompile(`(?i)retry[_\s-]?after[:\s]+(\d+(?:\.\d+)?)`)
)

// messageKeysNested is the field-search order inside a nested error object.
var messageKeysNested = []string{"message", "error", "type", "code"}

// messageKeysFlat is the field-search order for a flat error object.
var messageKeysFlat = []string{"message", "error", "code", "reason", "type"}

// Classify inspects an arbitrary provider-shaped failure and decides whether
// it is a transient rate-limit/overload condition worth retrying. The input
// may be an error value, a plain string, or any JSON-marshalable structure
// (maps, provider response bodies, decoded SDK payloads).
func Classify(v any) Classification {
	msg, doc := normalize(v)

	c := Classification{
		Message:    msg,
		RetryAfter: extractRetryAfter(msg, doc),
	}

	if code, ok := extractStatusCode(msg, doc); ok && retryableStatusCodes[code] {
		c.Retryable = true
		return c
	}

	lower := strings.ToLower(msg)
	for _, sub := range rateLimitSubstrings {
		if strings.Contains(lower, sub) {
			c.Retryable = true
			return c
		}
	}
	for _, token := range sdkErrorTokens {
		if strings.Contains(lower, token) {
			c.Retryable = true
			return c
		}
	}
	for _, phrase := range cjkRateLimitPhrases {
		if strings.Contains(msg, phrase) {
			c.Retryable = true
			return c
		}
	}
	for _, re := range looseRateLimitRes {
		if re.MatchString(msg) {
			c.Retryable = true
			return c
		}
	}
	for _, re := range httpReasonPhraseRes {
		if re.MatchString(msg) {
			c.Retryable = true
			return c
		}
	}

	return c
}

// normalize reduces the input to a log-friendly message plus, when the input
// has structure, a parsed JSON document for field probing.
func normalize(v any) (string, gjson.Result) {
	switch value := v.(type) {
	case nil:
		return "", gjson.Result{}
	case string:
		return value, gjson.Result{}
	case error:
		msg := value.Error()
		// SDK errors that expose their raw response body get probed as JSON.
		if raw, ok := value.(interface{ RawJSON() string }); ok {
			if body := raw.RawJSON(); gjson.Valid(body) {
				doc := gjson.Parse(body)
				if extracted := extractMessage(doc); extracted != "" {
					msg = extracted
				}
				return msg, doc
			}
		}
		return msg, gjson.Result{}
	case json.RawMessage:
		return normalizeJSON(string(value))
	case []byte:
		return normalizeJSON(string(value))
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value), gjson.Result{}
		}
		return normalizeJSON(string(raw))
	}
}

func normalizeJSON(raw string) (string, gjson.Result) {
	if !gjson.Valid(raw) {
		return raw, gjson.Result{}
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return doc.String(), doc
	}
	return extractMessage(doc), doc
}

// extractMessage applies the prioritized field search over a provider error
// object: nested error fields win, then the same keys on the outer object,
// then a structural serialization as last resort.
func extractMessage(doc gjson.Result) string {
	nested := doc.Get("error")
	if nested.IsObject() {
		if s := firstStringField(nested, messageKeysNested); s != "" {
			return s
		}
		if s := firstStringField(doc, messageKeysNested); s != "" {
			return s
		}
		return nested.Raw
	}

	if s := firstStringField(doc, messageKeysFlat); s != "" {
		return s
	}
	return doc.Raw
}

func firstStringField(obj gjson.Result, keys []string) string {
	for _, key := range keys {
		field := obj.Get(key)
		if field.Type == gjson.String && field.Str != "" {
			return field.Str
		}
	}
	return ""
}

// extractStatusCode pulls an HTTP-style status from a status field, a nested
// error.status field, or an "HTTP nnn" substring in the message.
func extractStatusCode(msg string, doc gjson.Result) (int, bool) {
	for _, path := range []string{"status", "error.status"} {
		field := doc.Get(path)
		switch field.Type {
		case gjson.Number:
			return int(field.Int()), true
		case gjson.String:
			if code, err := strconv.Atoi(field.Str); err == nil {
				return code, true
			}
		}
	}
	if m := httpStatusInMessageRe.FindStringSubmatch(msg); m != nil {
		if code, err := strconv.Atoi(m[1]); err == nil {
			return code, true
		}
	}
	return 0, false
}

// extractRetryAfter finds a provider retry hint: a numeric retry_after field
// (seconds) on the error or nested under error, or a "retry after N" form in
// the message text.
func extractRetryAfter(msg string, doc gjson.Result) time.Duration {
	for _, path := range []string{"retry_after", "error.retry_after"} {
		field := doc.Get(path)
		if field.Type == gjson.Number {
			return secondsToDuration(field.Float())
		}
		if field.Type == gjson.String {
			if secs, err := strconv.ParseFloat(field.Str, 64); err == nil {
				return secondsToDuration(secs)
			}
		}
	}
	if m := retryAfterInMessageRe.FindStringSubmatch(msg); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
			return secondsToDuration(secs)
		}
	}
	return 0
}

func secondsToDuration(secs float64) time.Duration {
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
