package exercise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for input, expected := range map[string]Kind{
		"bicep-curl": BicepCurl,
		"bicepCurls": BicepCurl,
		"Squats":     Squat,
		"push-up":    PushUp,
		"pushups":    PushUp,
		" crunches ": Crunch,
	} {
		k, err := ParseKind(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, k, input)
	}

	_, err := ParseKind("deadlift")
	assert.ErrorIs(t, err, ErrUnknownExercise)
}

func TestKind_TextRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		b, err := k.MarshalText()
		require.NoError(t, err)

		var parsed Kind
		require.NoError(t, parsed.UnmarshalText(b))
		assert.Equal(t, k, parsed)
	}

	_, err := Kind(42).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownExercise)
}

func TestLookup_Table(t *testing.T) {
	curl, err := Lookup(BicepCurl)
	require.NoError(t, err)
	assert.Len(t, curl.Primary, 2)
	assert.True(t, curl.Contracted.Satisfied(20))
	assert.False(t, curl.Contracted.Satisfied(21))
	assert.True(t, curl.Extended.Satisfied(90))
	require.Len(t, curl.Postural, 2)
	assert.True(t, curl.Postural[0].Contains(170))
	assert.False(t, curl.Postural[0].Contains(169))

	squat, err := Lookup(Squat)
	require.NoError(t, err)
	assert.True(t, squat.Contracted.Satisfied(110))
	assert.True(t, squat.Extended.Satisfied(150))
	assert.True(t, squat.Postural[1].Contains(140))

	pushUp, err := Lookup(PushUp)
	require.NoError(t, err)
	assert.True(t, pushUp.Contracted.Satisfied(60))
	assert.False(t, pushUp.Extended.Satisfied(60))
	assert.True(t, pushUp.Extended.Satisfied(61))

	crunch, err := Lookup(Crunch)
	require.NoError(t, err)
	assert.True(t, crunch.SingleCrossing)
	assert.Empty(t, crunch.Postural)
	assert.False(t, crunch.Contracted.Satisfied(50))
	assert.True(t, crunch.Contracted.Satisfied(49))
	assert.False(t, crunch.Extended.Satisfied(130))

	_, err = Lookup(Kind(0))
	assert.ErrorIs(t, err, ErrUnknownExercise)
}

func TestResolve(t *testing.T) {
	curl, err := Resolve("bicepCurls")
	require.NoError(t, err)
	assert.Equal(t, BicepCurl, curl.Kind)

	_, err = Resolve("deadlift")
	assert.ErrorIs(t, err, ErrUnknownExercise)
}
