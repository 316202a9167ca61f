package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBreaks_ISOForm(t *testing.T) {
	loc := tokyo(t)
	shiftDate := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)

	data := []byte(`[
		{"start_at": "2026-03-10T12:00:00+09:00", "end_at": "2026-03-10T13:00:00+09:00"}
	]`)

	got, err := ParseBreaks(data, shiftDate, loc)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Start.Equal(shiftDate.Add(12*time.Hour)))
	assert.True(t, got[0].End.Equal(shiftDate.Add(13*time.Hour)))
}

func TestParseBreaks_NaiveISOUsesShopTimezone(t *testing.T) {
	loc := tokyo(t)
	shiftDate := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)

	data := []byte(`[{"start_at": "2026-03-10T12:00:00", "end_at": "2026-03-10 13:00:00"}]`)

	got, err := ParseBreaks(data, shiftDate, loc)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Start.Equal(shiftDate.Add(12*time.Hour)))
	assert.True(t, got[0].End.Equal(shiftDate.Add(13*time.Hour)))
}

func TestParseBreaks_LegacyClockForm(t *testing.T) {
	loc := tokyo(t)
	shiftDate := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)

	data := []byte(`[{"start_time": "12:00", "end_time": "13:00"}]`)

	got, err := ParseBreaks(data, shiftDate, loc)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Start.Equal(shiftDate.Add(12*time.Hour)))
	assert.True(t, got[0].End.Equal(shiftDate.Add(13*time.Hour)))
}

func TestParseBreaks_LegacyCrossesMidnight(t *testing.T) {
	loc := tokyo(t)
	shiftDate := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)

	data := []byte(`[{"start_time": "23:30", "end_time": "00:30"}]`)

	got, err := ParseBreaks(data, shiftDate, loc)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Start.Equal(shiftDate.Add(23*time.Hour+30*time.Minute)))
	assert.True(t, got[0].End.Equal(shiftDate.AddDate(0, 0, 1).Add(30*time.Minute)))
}

func TestParseBreaks_NormalizesOverlaps(t *testing.T) {
	loc := time.UTC
	shiftDate := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)

	data := []byte(`[
		{"start_time": "12:00", "end_time": "12:45"},
		{"start_time": "12:30", "end_time": "13:00"}
	]`)

	got, err := ParseBreaks(data, shiftDate, loc)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Start.Equal(shiftDate.Add(12*time.Hour)))
	assert.True(t, got[0].End.Equal(shiftDate.Add(13*time.Hour)))
}

func TestParseBreaks_Malformed(t *testing.T) {
	shiftDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := ParseBreaks([]byte(`[{"start_time": "noon"}]`), shiftDate, time.UTC)
	assert.Error(t, err)

	_, err = ParseBreaks([]byte(`{"not":"a list"}`), shiftDate, time.UTC)
	assert.Error(t, err)

	got, err := ParseBreaks(nil, shiftDate, time.UTC)
	require.NoError(t, err)
	assert.Empty(t, got)
}
