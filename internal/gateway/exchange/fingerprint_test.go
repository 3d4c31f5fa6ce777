package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dipbot/internal/types"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint(types.Credentials{APIKey: "key-a", APISecret: "secret-a"})
	b := Fingerprint(types.Credentials{APIKey: "key-a", APISecret: "secret-a"})
	c := Fingerprint(types.Credentials{APIKey: "key-a", APISecret: "secret-b"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
	// Swapping key and secret must produce a different fingerprint.
	d := Fingerprint(types.Credentials{APIKey: "secret-a", APISecret: "key-a"})
	assert.NotEqual(t, a, d)
}
