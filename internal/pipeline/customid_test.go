package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterCustomID_RoundTrip(t *testing.T) {
	id := filterCustomID(12345)
	assert.Equal(t, "speech_12345", id)

	speechID, err := parseFilterCustomID(id)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), speechID)
}

func TestParseFilterCustomID_Invalid(t *testing.T) {
	for _, bad := range []string{"score_1_0", "speech_", "speech_abc", ""} {
		_, err := parseFilterCustomID(bad)
		assert.Error(t, err, bad)
	}
}

func TestScoreCustomID_RoundTrip(t *testing.T) {
	assert.Equal(t, "score_7_1", scoreCustomID(7, true))
	assert.Equal(t, "score_7_0", scoreCustomID(7, false))

	id, withReasoning, err := parseScoreCustomID("score_7_1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.True(t, withReasoning)

	id, withReasoning, err = parseScoreCustomID("score_7_0")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.False(t, withReasoning)
}

func TestParseScoreCustomID_Invalid(t *testing.T) {
	for _, bad := range []string{"speech_7", "score_7", "score_7_2", "score_x_1", "score_7_1_9"} {
		_, _, err := parseScoreCustomID(bad)
		assert.Error(t, err, bad)
	}
}
