package syncbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	b := New()
	var got []string
	b.Listen(SyncEventName, func(p any) { got = append(got, "a") })
	b.Listen(SyncEventName, func(p any) { got = append(got, "b") })
	b.Listen("other", func(p any) { got = append(got, "other") })

	b.Publish(SyncEventName, Event{Type: TypeApplied, Tables: []string{"transactions"}})
	require.Len(t, got, 2)
	require.NotContains(t, got, "other")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	b := New()
	n := 0
	off := b.Listen(SyncEventName, func(p any) { n++ })

	b.Publish(SyncEventName, Event{Type: TypeSuccess})
	off()
	off() // idempotent
	b.Publish(SyncEventName, Event{Type: TypeSuccess})
	require.Equal(t, 1, n)
}

func TestPayloadPassedThrough(t *testing.T) {
	t.Parallel()

	b := New()
	var got Event
	b.Listen(SyncEventName, func(p any) { got = p.(Event) })
	b.Publish(SyncEventName, Event{Type: TypeSuccess, Tables: []string{"payees", "accounts"}})
	require.Equal(t, TypeSuccess, got.Type)
	require.Equal(t, []string{"payees", "accounts"}, got.Tables)
}
