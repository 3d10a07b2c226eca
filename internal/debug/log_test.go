package debug_test

import (
	"crypto/rand"
	"testing"

	"github.com/tumulus/tumulus/internal/debug"
	"github.com/tumulus/tumulus/internal/ids"
)

func BenchmarkLogStatic(b *testing.B) {
	for i := 0; i < b.N; i++ {
		debug.Log("Static string")
	}
}

func randomID(b *testing.B) ids.B3 {
	buf := make([]byte, ids.Length)
	if _, err := rand.Read(buf); err != nil {
		b.Fatal(err)
	}
	return ids.Sum(buf)
}

func BenchmarkLogIDStr(b *testing.B) {
	id := randomID(b)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		debug.Log("id: %v", id)
	}
}

func BenchmarkLogIDString(b *testing.B) {
	id := randomID(b)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		debug.Log("id: %s", id)
	}
}
