package codec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	cases := [][]byte{
		nil,
		[]byte("Hello, MASC!"),
		bytes.Repeat([]byte("A"), 64),
		bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200),
	}
	for _, plain := range cases {
		encoded := c.Encode(plain)
		decoded := c.Decode(encoded)
		assert.Equal(t, plain, decoded)
	}
}

func TestEncodeBelowThresholdIsUnchanged(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	plain := []byte("Hello, MASC!")
	require.Less(t, len(plain), minCompressible)
	assert.Equal(t, plain, c.Encode(plain))
}

func TestEncodeIsSizeMonotone(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	plain := bytes.Repeat([]byte("A"), 64)
	encoded := c.Encode(plain)
	assert.LessOrEqual(t, len(encoded), len(plain)+9)
}

func TestEncodeLeavesIncompressibleDataUnchanged(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	// Pseudo-random bytes do not compress smaller than themselves once
	// framed, so Encode returns them as they are.
	plain := make([]byte, 160)
	rand.New(rand.NewSource(1)).Read(plain)
	encoded := c.Encode(plain)
	assert.Equal(t, plain, encoded)
}

func TestDecodeIdentityOnUnrecognisedInput(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	plain := []byte("not a zstd frame at all, just text")
	assert.Equal(t, plain, c.Decode(plain))
}

func TestDecodeIdentityOnCorruptFrame(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	corrupt := append([]byte("ZSTD\x00"), []byte{0, 0, 0, 10, 1, 2, 3}...)
	assert.Equal(t, corrupt, c.Decode(corrupt))
}

func TestDictionaryHeaderTriedBeforeStandard(t *testing.T) {
	dict := bytes.Repeat([]byte("training corpus data for the dictionary "), 50)
	c, err := NewWithDictionary(dict)
	require.NoError(t, err)
	require.True(t, c.HasDictionary())

	plain := bytes.Repeat([]byte("shared room traffic "), 10)
	encoded := c.Encode(plain)
	require.True(t, bytes.HasPrefix(encoded, magicDict), "small payloads should prefer the dictionary frame")

	decoded := c.Decode(encoded)
	assert.Equal(t, plain, decoded)
}

func TestDictionaryOnlyUsedBelowSizeCeiling(t *testing.T) {
	dict := bytes.Repeat([]byte("training corpus data for the dictionary "), 50)
	c, err := NewWithDictionary(dict)
	require.NoError(t, err)

	big := bytes.Repeat([]byte("x"), dictSizeCeiling+1024)
	encoded := c.Encode(big)
	assert.False(t, bytes.HasPrefix(encoded, magicDict))

	decoded := c.Decode(encoded)
	assert.Equal(t, big, decoded)
}

func TestLegacyHeaderDecodes(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	plain := bytes.Repeat([]byte("legacy frame payload "), 20)
	modern := c.Encode(plain)
	require.True(t, bytes.HasPrefix(modern, magicStandard))

	// Re-frame the same compressed body under the legacy 8-byte header to
	// simulate a producer running an older Compact Protocol version.
	legacy := append([]byte("ZSTD"), modern[5:9]...)
	legacy = append(legacy, modern[9:]...)

	decoded := c.Decode(legacy)
	assert.Equal(t, plain, decoded)
}
