package debug

import (
	"net/http"
	"testing"
)

func TestRedactHeader(t *testing.T) {
	secretHeaders := []string{
		"Authorization",
		"X-Auth-Token",
		"X-Auth-Key",
	}

	header := make(http.Header)
	header["Authorization"] = []string{"123"}
	header["X-Auth-Token"] = []string{"1234"}
	header["X-Auth-Key"] = []string{"12345"}
	header["Host"] = []string{"my.host"}

	origHeaders := redactHeader(header)

	for _, hdr := range secretHeaders {
		if got := header[hdr][0]; got != "**redacted**" {
			t.Fatalf("header %v not redacted, got %q", hdr, got)
		}
	}
	if got := header["Host"][0]; got != "my.host" {
		t.Fatalf("unexpected Host header: %q", got)
	}

	restoreHeader(header, origHeaders)
	if header["Authorization"][0] != "123" {
		t.Fatalf("Authorization not restored")
	}
	if header["X-Auth-Token"][0] != "1234" {
		t.Fatalf("X-Auth-Token not restored")
	}
	if header["X-Auth-Key"][0] != "12345" {
		t.Fatalf("X-Auth-Key not restored")
	}

	delete(header, "X-Auth-Key")
	origHeaders = redactHeader(header)
	if _, hasHeader := header["X-Auth-Key"]; hasHeader {
		t.Fatalf("unexpected header: %v", header["X-Auth-Key"])
	}

	restoreHeader(header, origHeaders)
	if _, hasHeader := header["X-Auth-Key"]; hasHeader {
		t.Fatalf("unexpected header: %v", header["X-Auth-Key"])
	}
}
