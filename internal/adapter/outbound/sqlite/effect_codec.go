package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ailink/gateway/internal/domain/policy"
)

const rfc3339 = time.RFC3339Nano

func parseRFC3339(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(rfc3339, s)
}

// encodeEffect converts a policy.RuleEffect into a (kind, JSON data) pair
// for storage. Each kind name matches the concrete Go type it decodes
// back into.
func encodeEffect(effect policy.RuleEffect) (kind string, data json.RawMessage, err error) {
	switch e := effect.(type) {
	case policy.Allow:
		return "allow", []byte("{}"), nil
	case policy.Deny:
		b, err := json.Marshal(e)
		return "deny", b, err
	case policy.RequireApproval:
		b, err := json.Marshal(requireApprovalWire{TTLSeconds: e.TTL.Seconds(), IdempotencyKey: e.IdempotencyKey})
		return "require_approval", b, err
	case policy.Redact:
		b, err := json.Marshal(e)
		return "redact", b, err
	case policy.RateLimit:
		b, err := json.Marshal(e)
		return "rate_limit", b, err
	case policy.Route:
		b, err := json.Marshal(e)
		return "route", b, err
	case policy.Split:
		b, err := json.Marshal(e)
		return "split", b, err
	case policy.LogLevel:
		b, err := json.Marshal(e)
		return "log_level", b, err
	case policy.ContentFilter:
		b, err := json.Marshal(e)
		return "content_filter", b, err
	default:
		return "", nil, fmt.Errorf("unknown rule effect type %T", effect)
	}
}

// decodeEffect reverses encodeEffect.
func decodeEffect(kind string, data json.RawMessage) (policy.RuleEffect, error) {
	switch kind {
	case "allow":
		return policy.Allow{}, nil
	case "deny":
		var e policy.Deny
		return e, json.Unmarshal(data, &e)
	case "require_approval":
		var w requireApprovalWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		return policy.RequireApproval{
			TTL:            time.Duration(w.TTLSeconds * float64(time.Second)),
			IdempotencyKey: w.IdempotencyKey,
		}, nil
	case "redact":
		var e policy.Redact
		return e, json.Unmarshal(data, &e)
	case "rate_limit":
		var e policy.RateLimit
		return e, json.Unmarshal(data, &e)
	case "route":
		var e policy.Route
		return e, json.Unmarshal(data, &e)
	case "split":
		var e policy.Split
		return e, json.Unmarshal(data, &e)
	case "log_level":
		var e policy.LogLevel
		return e, json.Unmarshal(data, &e)
	case "content_filter":
		var e policy.ContentFilter
		return e, json.Unmarshal(data, &e)
	default:
		return nil, fmt.Errorf("unknown rule effect kind %q", kind)
	}
}

// requireApprovalWire avoids depending on time.Duration's JSON encoding
// (an integer count of nanoseconds, easy to mis-scale by hand later).
type requireApprovalWire struct {
	TTLSeconds     float64 `json:"ttl_seconds"`
	IdempotencyKey string  `json:"idempotency_key"`
}
