package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Elon-Abulafia/PipeRT/message"
)

// Encode returns the wire form of msg
func Encode(t testing.TB, msg *message.Message) []byte {
	t.Helper()
	data, err := message.Encode(msg)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return data
}

// Decode parses the wire form, failing the test on error
func Decode(t testing.TB, data []byte) *message.Message {
	t.Helper()
	msg, err := message.Decode(data)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return msg
}

// WriteFrames creates one file per name in a fresh directory; each file
// holds its own name as content
func WriteFrames(t testing.TB, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o600); err != nil {
			t.Fatalf("write frame %s: %v", name, err)
		}
	}
	return dir
}
