package ownership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireGrantsFreePaths(t *testing.T) {
	ledger := map[string]string{}

	leased, err := Acquire(ledger, "w1", []string{"src/a.go", "src/b.go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.go", "src/b.go"}, leased)
	assert.Equal(t, "w1", ledger["src/a.go"])
	assert.Equal(t, "w1", ledger["src/b.go"])
}

func TestAcquireConflictRollsBackPartialGrant(t *testing.T) {
	ledger := map[string]string{"src/b.go": "w2"}

	_, err := Acquire(ledger, "w1", []string{"src/a.go", "src/b.go", "src/c.go"})
	require.Error(t, err)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "src/b.go", conflict.Path)
	assert.Equal(t, "w2", conflict.Owner)

	// Nothing from the failed request sticks.
	_, ok := ledger["src/a.go"]
	assert.False(t, ok, "partially granted lease must be rolled back")
	_, ok = ledger["src/c.go"]
	assert.False(t, ok)
	assert.Equal(t, "w2", ledger["src/b.go"])
}

func TestAcquireReacquireOwnPathIsNoop(t *testing.T) {
	ledger := map[string]string{"src/a.go": "w1"}

	leased, err := Acquire(ledger, "w1", []string{"src/a.go", "src/b.go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.go", "src/b.go"}, leased)
}

func TestAcquireCleansPaths(t *testing.T) {
	ledger := map[string]string{}

	_, err := Acquire(ledger, "w1", []string{"src//a.go"})
	require.NoError(t, err)

	// A differently spelled path to the same file conflicts.
	_, err = Acquire(ledger, "w2", []string{"src/./a.go"})
	require.Error(t, err)

	owner, ok := Owner(ledger, "src/a.go")
	require.True(t, ok)
	assert.Equal(t, "w1", owner)
}

func TestReleaseIsIdempotent(t *testing.T) {
	ledger := map[string]string{"src/a.go": "w1"}

	Release(ledger, "w1", []string{"src/a.go"})
	_, ok := ledger["src/a.go"]
	assert.False(t, ok)

	// Second release of the same pair is a no-op.
	Release(ledger, "w1", []string{"src/a.go"})
	assert.Empty(t, ledger)
}

func TestReleaseDoesNotTouchOtherOwners(t *testing.T) {
	ledger := map[string]string{"src/a.go": "w2"}

	Release(ledger, "w1", []string{"src/a.go"})
	assert.Equal(t, "w2", ledger["src/a.go"], "release must not evict another owner")
}

func TestReleaseAll(t *testing.T) {
	ledger := map[string]string{
		"src/a.go": "w1",
		"src/b.go": "w1",
		"src/c.go": "w2",
	}

	ReleaseAll(ledger, "w1")
	assert.Equal(t, map[string]string{"src/c.go": "w2"}, ledger)
}

func TestOwned(t *testing.T) {
	ledger := map[string]string{
		"src/b.go": "w1",
		"src/a.go": "w1",
		"src/c.go": "w2",
	}
	assert.Equal(t, []string{"src/a.go", "src/b.go"}, Owned(ledger, "w1"))
	assert.Empty(t, Owned(ledger, "w3"))
}

func TestNoDoubleOwnership(t *testing.T) {
	ledger := map[string]string{}

	_, err := Acquire(ledger, "w1", []string{"a.ts"})
	require.NoError(t, err)

	_, err = Acquire(ledger, "w2", []string{"a.ts"})
	require.Error(t, err)

	// At most one owner per path at any snapshot.
	owner, ok := Owner(ledger, "a.ts")
	require.True(t, ok)
	assert.Equal(t, "w1", owner)
}
