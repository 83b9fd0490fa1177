package bhyve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrbitTimeToLocalMillisecondLayout(t *testing.T) {
	got, ok := OrbitTimeToLocal("2020-01-09T20:30:00.000Z")
	require.True(t, ok)

	want := time.Date(2020, 1, 9, 20, 30, 0, 0, time.UTC)
	assert.True(t, got.Equal(want))
	assert.Equal(t, time.Local, got.Location())
}

func TestOrbitTimeToLocalRFC3339(t *testing.T) {
	got, ok := OrbitTimeToLocal("2020-01-09T20:30:00Z")
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2020, 1, 9, 20, 30, 0, 0, time.UTC)))
}

func TestOrbitTimeToLocalNanoseconds(t *testing.T) {
	got, ok := OrbitTimeToLocal("2020-01-09T20:30:00.123456789Z")
	require.True(t, ok)
	assert.Equal(t, 123456789, got.Nanosecond())
}

func TestOrbitTimeToLocalEmpty(t *testing.T) {
	_, ok := OrbitTimeToLocal("")
	assert.False(t, ok)
}

func TestOrbitTimeToLocalMalformed(t *testing.T) {
	for _, ts := range []string{"not-a-time", "2020-01-09", "20:30:00"} {
		_, ok := OrbitTimeToLocal(ts)
		assert.False(t, ok, "input %q", ts)
	}
}
