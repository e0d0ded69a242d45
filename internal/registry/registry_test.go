package registry

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	return New(logrus.New(), Config{
		Endpoints: map[string]string{
			"osmosis-1":   "https://lcd.osmosis.zone/",
			"cosmoshub-4": "https://lcd.cosmos.network",
		},
	})
}

func TestLookupStripsTrailingSlash(t *testing.T) {
	reg := testRegistry()

	endpoint, ok := reg.Lookup("osmosis-1")
	require.True(t, ok)
	assert.Equal(t, "https://lcd.osmosis.zone", endpoint)
}

func TestLookupUnknownChain(t *testing.T) {
	reg := testRegistry()

	_, ok := reg.Lookup("somechain-1")
	assert.False(t, ok)
}

func TestInvalidateAndReset(t *testing.T) {
	reg := testRegistry()

	reg.Invalidate("osmosis-1")

	_, ok := reg.Lookup("osmosis-1")
	assert.False(t, ok)

	// Other chains are unaffected.
	_, ok = reg.Lookup("cosmoshub-4")
	assert.True(t, ok)

	reg.Reset()

	_, ok = reg.Lookup("osmosis-1")
	assert.True(t, ok)
}

func TestInvalidateUnknownChainIsNoop(t *testing.T) {
	reg := testRegistry()

	reg.Invalidate("somechain-1")

	_, ok := reg.Lookup("osmosis-1")
	assert.True(t, ok)
}

func TestChains(t *testing.T) {
	reg := testRegistry()
	reg.Invalidate("osmosis-1")

	// Stale chains stay listed; only lookups are blocked.
	assert.ElementsMatch(t, []string{"osmosis-1", "cosmoshub-4"}, reg.Chains())
}
