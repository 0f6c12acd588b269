package appstate

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomMaterial(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 40)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

// TestLTHashAddSubInverse is Testable Property 3 (first half): add(sub(h,
// m), m) == h for random material m.
func TestLTHashAddSubInverse(t *testing.T) {
	var h Hash
	_, err := rand.Read(h[:])
	require.NoError(t, err)

	m := expandMutation(randomMaterial(t))

	reduced := Sub(h, m)
	restored := Add(reduced, m)
	require.Equal(t, h, restored)
}

// TestLTHashCommutative is Testable Property 3 (second half) and Property
// 7: add(add(h, a), b) == add(add(h, b), a) for random 128-byte a, b —
// mutation application order never affects the final digest.
func TestLTHashCommutative(t *testing.T) {
	var h Hash
	_, err := rand.Read(h[:])
	require.NoError(t, err)

	a := expandMutation(randomMaterial(t))
	b := expandMutation(randomMaterial(t))

	ab := Add(Add(h, a), b)
	ba := Add(Add(h, b), a)
	require.Equal(t, ab, ba)
}

// TestLTHashManyMutationsOrderIndependent folds a larger random mutation
// set in two different orders and checks the digests agree.
func TestLTHashManyMutationsOrderIndependent(t *testing.T) {
	const n = 20
	materials := make([]Hash, n)
	for i := range materials {
		materials[i] = expandMutation(randomMaterial(t))
	}

	var forward Hash
	for i := 0; i < n; i++ {
		forward = Add(forward, materials[i])
	}

	var reverse Hash
	for i := n - 1; i >= 0; i-- {
		reverse = Add(reverse, materials[i])
	}

	require.Equal(t, forward, reverse)
}
