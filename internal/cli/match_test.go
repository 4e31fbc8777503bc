package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutcome(t *testing.T) {
	o, err := parseOutcome("3f2a:+15:-10:WIN")
	require.NoError(t, err)
	assert.Equal(t, outcome{AccountID: "3f2a", DeltaRating: 15, DeltaCoins: -10, Result: "win"}, o)

	// Colons inside the id are kept
	o, err = parseOutcome("a:b:0:0:draw")
	require.NoError(t, err)
	assert.Equal(t, "a:b", o.AccountID)
}

func TestParseOutcomeInvalid(t *testing.T) {
	for _, spec := range []string{
		"",
		"id:15:win",
		":15:10:win",
		"id:x:10:win",
		"id:15:ten:win",
	} {
		_, err := parseOutcome(spec)
		assert.Error(t, err, spec)
	}
}
