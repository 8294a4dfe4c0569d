package translator

import "testing"

func TestFingerprint_SameMessagesSameHash(t *testing.T) {
	a := []byte(`{"messages":[{"role":"user","content":"hi"}],"stream":false,"user":"ignored-field"}`)
	b := []byte(`{"messages":[{"role":"user","content":"hi"}],"stream":true,"user":"different"}`)

	if Fingerprint("gpt-4o", a) != Fingerprint("gpt-4o", b) {
		t.Error("expected fingerprints to match when only incidental fields differ")
	}
}

func TestFingerprint_DifferentMessagesDifferentHash(t *testing.T) {
	a := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	b := []byte(`{"messages":[{"role":"user","content":"bye"}]}`)

	if Fingerprint("gpt-4o", a) == Fingerprint("gpt-4o", b) {
		t.Error("expected fingerprints to differ for different message content")
	}
}

func TestFingerprint_DifferentModelDifferentHash(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	if Fingerprint("gpt-4o", body) == Fingerprint("gpt-4o-mini", body) {
		t.Error("expected fingerprints to differ across models")
	}
}

func TestCacheable_RejectsStreamingAndOversized(t *testing.T) {
	req := []byte(`{"stream":false}`)
	streamingReq := []byte(`{"stream":true}`)
	small := []byte(`{"ok":true}`)
	big := make([]byte, MaxCacheableBodyBytes+1)

	if !Cacheable(req, small, 200) {
		t.Error("expected small non-streaming 200 to be cacheable")
	}
	if Cacheable(streamingReq, small, 200) {
		t.Error("expected streaming request to be uncacheable")
	}
	if Cacheable(req, big, 200) {
		t.Error("expected oversized response to be uncacheable")
	}
	if Cacheable(req, small, 500) {
		t.Error("expected non-2xx response to be uncacheable")
	}
}
