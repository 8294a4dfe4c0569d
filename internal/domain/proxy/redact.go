package proxy

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/tidwall/sjson"
)

// jsonPointerToSjsonPath converts an RFC 6901 JSON pointer
// ("/messages/0/content") into sjson's dotted path syntax
// ("messages.0.content"). An empty or malformed pointer yields "".
func jsonPointerToSjsonPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	segments := strings.Split(ptr, "/")
	for i, seg := range segments {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		segments[i] = seg
	}
	return strings.Join(segments, ".")
}

// tokenizeValue replaces a matched value with a stable, irreversible
// token derived from its content, so the same input always redacts to
// the same placeholder (useful for correlating repeated redactions
// across a conversation without storing the original value), matching
// the teacher's mask-string convention (audit.RedactSensitiveFields)
// but keyed by content instead of a fixed literal.
func tokenizeValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return "tok_" + hex.EncodeToString(sum[:8])
}

func sjsonSet(body []byte, path, value string) ([]byte, error) {
	return sjson.SetBytes(body, path, value)
}
