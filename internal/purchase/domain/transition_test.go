package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextFromPending(t *testing.T) {
	cases := []struct {
		kind EventKind
		want Status
	}{
		{EventSessionCompleted, StatusCompleted},
		{EventSessionExpired, StatusFailed},
		{EventPaymentFailed, StatusFailed},
		{EventPendingTimeout, StatusFailed},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			next, apply := Next(StatusPending, tc.kind)
			assert.True(t, apply)
			assert.Equal(t, tc.want, next)
		})
	}
}

func TestNextTerminalStatesAreImmutable(t *testing.T) {
	kinds := []EventKind{EventSessionCompleted, EventSessionExpired, EventPaymentFailed, EventPendingTimeout, "refund.created"}
	for _, status := range []Status{StatusCompleted, StatusFailed} {
		for _, kind := range kinds {
			next, apply := Next(status, kind)
			assert.False(t, apply, "%s + %s", status, kind)
			assert.Equal(t, status, next)
		}
	}
}

func TestNextIgnoresUnknownKind(t *testing.T) {
	next, apply := Next(StatusPending, "charge.dispute.created")
	assert.False(t, apply)
	assert.Equal(t, StatusPending, next)
}

func TestItemForBookPrefersDigitalFormat(t *testing.T) {
	p := Purchase{Items: []Item{
		{ID: 1, BookID: 10, Format: "paperback"},
		{ID: 2, BookID: 10, Format: "ebook"},
		{ID: 3, BookID: 11, Format: "hardcover"},
	}}

	assert.Equal(t, int64(2), p.ItemForBook(10).ID.Int64())
	assert.Equal(t, int64(3), p.ItemForBook(11).ID.Int64())
	assert.Nil(t, p.ItemForBook(12))
}
