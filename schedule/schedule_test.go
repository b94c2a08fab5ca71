package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cronxhq/cronx/schedule"
)

func TestParse_RejectsEmptyExpression(t *testing.T) {
	_, err := schedule.Parse("")
	assert.Error(t, err)

	_, err = schedule.Parse("   ")
	assert.Error(t, err)
}

func TestParse_RejectsUnparseableExpression(t *testing.T) {
	_, err := schedule.Parse("not a cron expression")
	assert.Error(t, err)
}

func TestParse_AcceptsFiveAndSixFieldForms(t *testing.T) {
	_, err := schedule.Parse("*/5 * * * *")
	require.NoError(t, err)

	_, err = schedule.Parse("*/5 * * * * *")
	require.NoError(t, err)
}

func TestParse_EveryConvenienceSyntax(t *testing.T) {
	s, err := schedule.Parse("@every 1m")
	require.NoError(t, err)

	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := s.Next(after)
	assert.True(t, next.After(after))
	assert.GreaterOrEqual(t, next.Sub(after), time.Minute)
}

func TestNextFire_StrictlyAfterGivenInstant(t *testing.T) {
	after := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	next, err := schedule.NextFire("0 * * * *", after, time.UTC)
	require.NoError(t, err)
	assert.True(t, next.After(after))
}

func TestUpcomingFires_ProducesStrictlyIncreasingSequence(t *testing.T) {
	after := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	fires, err := schedule.UpcomingFires("*/5 * * * * *", after, time.UTC, 5)
	require.NoError(t, err)
	require.Len(t, fires, 5)

	for i := 1; i < len(fires); i++ {
		assert.True(t, fires[i].After(fires[i-1]), "fire %d (%s) must be strictly after fire %d (%s)", i, fires[i], i-1, fires[i-1])
	}
}

func TestMustParse_PanicsOnInvalidExpression(t *testing.T) {
	assert.Panics(t, func() {
		schedule.MustParse("garbage")
	})
}
