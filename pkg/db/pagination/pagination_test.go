package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 6, 0, 0, 123, time.UTC)
	token := Cursor{ID: "1834", At: at}.Encode()
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "+")

	decoded, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "1834", decoded.ID)
	assert.True(t, at.Equal(decoded.At))
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	c, err := ParseToken("  ")
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = ParseToken("not-a-token")
	assert.ErrorIs(t, err, ErrMalformedToken)

	_, err = ParseToken(Cursor{ID: " "}.Encode())
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestTrim(t *testing.T) {
	rows := []int{5, 4, 3}
	page, info := Trim(rows, 2, func(v int) Cursor {
		return Cursor{ID: "row", At: time.Unix(int64(v), 0)}
	})
	assert.Equal(t, []int{5, 4}, page)
	assert.True(t, info.HasMore)

	next, err := ParseToken(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.At.Unix())

	page, info = Trim(rows, 3, func(int) Cursor { return Cursor{} })
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestSize(t *testing.T) {
	assert.Equal(t, 50, Pagination{}.Size(50, 250))
	assert.Equal(t, 250, Pagination{PageSize: 900}.Size(50, 250))
	assert.Equal(t, 7, Pagination{PageSize: 7}.Size(50, 250))
}
