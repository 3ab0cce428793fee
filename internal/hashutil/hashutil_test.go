package hashutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHexSHA256_KnownVector(t *testing.T) {
	// sha256("") per the published NIST test vector.
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HexSHA256(nil))
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HexSHA256([]byte{}))
}

func TestHexSHA256_Deterministic(t *testing.T) {
	a := HexSHA256([]byte("flexcore"))
	b := HexSHA256([]byte("flexcore"))
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}

func TestHexSHA256_DifferentInputsDiffer(t *testing.T) {
	require.NotEqual(t, HexSHA256([]byte("a")), HexSHA256([]byte("b")))
}
