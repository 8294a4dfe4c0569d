package translator

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/tidwall/gjson"
)

// NoCacheHeader is the request header a client sets to bypass the
// response cache entirely for that call.
const NoCacheHeader = "X-Ailink-No-Cache"

// MaxCacheableBodyBytes bounds how large a non-streaming completion body
// can be and still be stored in the response cache.
const MaxCacheableBodyBytes = 256 * 1024

// Fingerprint returns a stable cache key for a request body, derived
// from the canonicalized model and the fields that affect the model's
// output (messages, tools, temperature, ...), not from incidental
// fields like stream or metadata that don't change the answer.
func Fingerprint(model string, body []byte) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(model)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(gjson.GetBytes(body, "messages").Raw)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(gjson.GetBytes(body, "tools").Raw)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(gjson.GetBytes(body, "tool_choice").Raw)
	_, _ = h.Write([]byte{0})
	if temp := gjson.GetBytes(body, "temperature"); temp.Exists() {
		_, _ = h.WriteString(strconv.FormatFloat(temp.Num, 'f', -1, 64))
	}
	return h.Sum64()
}

// Cacheable reports whether a completion is eligible for the response
// cache: non-streaming, successful, and under the size threshold.
func Cacheable(requestBody, responseBody []byte, statusCode int) bool {
	if gjson.GetBytes(requestBody, "stream").Bool() {
		return false
	}
	if statusCode < 200 || statusCode >= 300 {
		return false
	}
	return len(responseBody) <= MaxCacheableBodyBytes
}
