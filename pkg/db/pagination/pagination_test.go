package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type row struct {
	id string
}

func TestBuildCursorPageInfo(t *testing.T) {
	rows := []*row{{id: "1"}, {id: "2"}, {id: "3"}}

	kept, info, err := BuildCursorPageInfo(rows, 2, func(r *row) Cursor { return Cursor{ID: r.id} })
	require.NoError(t, err)
	require.Len(t, kept, 2)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	require.Equal(t, "2", cursor.ID)
}

func TestBuildCursorPageInfoLastPage(t *testing.T) {
	rows := []*row{{id: "1"}}
	kept, info, err := BuildCursorPageInfo(rows, 2, func(r *row) Cursor { return Cursor{ID: r.id} })
	require.NoError(t, err)
	require.Len(t, kept, 1)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextPageToken)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	require.ErrorIs(t, err, ErrInvalidPageToken)

	cursor, err := DecodeCursor("")
	require.NoError(t, err)
	require.Nil(t, cursor)
}

func TestLimitClamps(t *testing.T) {
	require.Equal(t, DefaultPageSize, Pagination{}.Limit())
	require.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	require.Equal(t, 5, Pagination{PageSize: 5}.Limit())
}
