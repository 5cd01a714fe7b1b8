package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_Deterministic(t *testing.T) {
	content := []byte("hello world")
	opts := map[string]string{"lang_out": "zh", "pages": "1-3"}

	a := Fingerprint(content, opts)
	b := Fingerprint(content, map[string]string{"pages": "1-3", "lang_out": "zh"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_ContentSensitive(t *testing.T) {
	opts := map[string]string{"lang_out": "zh"}
	a := Fingerprint([]byte("document one"), opts)
	b := Fingerprint([]byte("document two"), opts)
	assert.NotEqual(t, a, b)
}

func TestFingerprint_OptionSensitive(t *testing.T) {
	content := []byte("same document")
	a := Fingerprint(content, map[string]string{"lang_out": "zh"})
	b := Fingerprint(content, map[string]string{"lang_out": "de"})
	assert.NotEqual(t, a, b)
}

func TestFingerprint_NilAndEmptyOptionsAgree(t *testing.T) {
	content := []byte("bare content")
	assert.Equal(t, Fingerprint(content, nil), Fingerprint(content, map[string]string{}))
}
