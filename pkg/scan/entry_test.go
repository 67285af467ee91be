package scan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignature_DistinguishesPathAndMtime(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	same := Signature("/a/b", base)

	assert.Equal(t, same, Signature("/a/b", base))
	assert.NotEqual(t, same, Signature("/a/c", base))
	assert.NotEqual(t, same, Signature("/a/b", base.Add(time.Nanosecond)))
}

func TestEntry_SignatureMatchesFreeFunction(t *testing.T) {
	t.Parallel()

	modTime := time.Now()
	entry := Entry{Path: "/a/b", ModTime: modTime}

	assert.Equal(t, Signature("/a/b", modTime), entry.Signature())
}

func TestSplitRoots(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "single", input: "/a", want: []string{"/a"}},
		{name: "multiple", input: "/a,/b,/c", want: []string{"/a", "/b", "/c"}},
		{name: "whitespace trimmed", input: " /a , /b ", want: []string{"/a", "/b"}},
		{name: "blanks dropped", input: "/a,,", want: []string{"/a"}},
		{name: "empty", input: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, SplitRoots(tt.input))
		})
	}
}
