package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	token := EncodeCursor(Cursor{LastID: 42, LastCreatedAt: at})
	require.NotEmpty(t, token)

	decoded := DecodeCursor(token)
	require.NotNil(t, decoded)
	assert.Equal(t, int64(42), decoded.LastID)
	assert.True(t, at.Equal(decoded.LastCreatedAt))
}

func TestDecodeCursorMalformed(t *testing.T) {
	for name, token := range map[string]string{
		"empty":       "",
		"not_base64":  "%%%not-base64%%%",
		"not_json":    "bm90IGpzb24=",
		"wrong_shape": "eyJmb28iOiJiYXIifQ==",
	} {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, DecodeCursor(token))
		})
	}
}

func TestBuildCursorPageInfo(t *testing.T) {
	type row struct {
		ID        int64
		CreatedAt time.Time
	}
	extract := func(r row) Cursor {
		return Cursor{LastID: r.ID, LastCreatedAt: r.CreatedAt}
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []row{
		{ID: 5, CreatedAt: base.Add(5 * time.Minute)},
		{ID: 4, CreatedAt: base.Add(4 * time.Minute)},
		{ID: 3, CreatedAt: base.Add(3 * time.Minute)},
	}

	trimmed, info := BuildCursorPageInfo(rows, 2, extract)
	assert.Len(t, trimmed, 2)
	assert.True(t, info.HasMore)

	next := DecodeCursor(info.NextCursor)
	require.NotNil(t, next)
	assert.Equal(t, int64(4), next.LastID)

	trimmed, info = BuildCursorPageInfo(rows[:2], 2, extract)
	assert.Len(t, trimmed, 2)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextCursor)

	trimmed, info = BuildCursorPageInfo([]row{}, 2, extract)
	assert.Empty(t, trimmed)
	assert.False(t, info.HasMore)
}
