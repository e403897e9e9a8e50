package id

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorMonotonic(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	g := NewGenerator(func() time.Time { return at })

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = g.Next()
	}
	assert.True(t, sort.StringsAreSorted(ids))

	seen := map[string]bool{}
	for _, s := range ids {
		assert.Len(t, s, 26)
		assert.False(t, seen[s])
		seen[s] = true
	}

	ts, err := Time(ids[0])
	require.NoError(t, err)
	assert.True(t, ts.Equal(at))
}

func TestNewAndTime(t *testing.T) {
	t.Parallel()

	s := New()
	ts, err := Time(s)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}
