package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemorySinkFetchRecentChronological(t *testing.T) {
	sink := NewMemorySink(30)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	// Inserted out of order on purpose.
	for _, offset := range []int{2, 0, 1} {
		ok := sink.InsertMessage(ctx, Message{
			SessionID: "s1",
			Role:      RoleUser,
			Text:      string(rune('a' + offset)),
			CreatedAt: base.Add(time.Duration(offset) * time.Minute),
		})
		require.True(t, ok)
	}

	msgs, err := sink.FetchRecent(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "a", msgs[0].Text)
	require.Equal(t, "b", msgs[1].Text)
	require.Equal(t, "c", msgs[2].Text)
}

func TestMemorySinkFetchRecentLimit(t *testing.T) {
	sink := NewMemorySink(30)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		sink.InsertMessage(ctx, Message{
			SessionID: "s1",
			Text:      string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	msgs, err := sink.FetchRecent(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// Most recent two, oldest of the pair first.
	require.Equal(t, "d", msgs[0].Text)
	require.Equal(t, "e", msgs[1].Text)
}

func TestMemorySinkNormalizesOnInsert(t *testing.T) {
	sink := NewMemorySink(30)
	ctx := context.Background()

	require.Equal(t, 1, sink.InsertMessages(ctx, []Message{{SessionID: "s1", Text: "x"}}))

	msgs, err := sink.FetchRecent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotEmpty(t, msgs[0].ID)
	require.NotNil(t, msgs[0].Metadata)
	require.NotNil(t, msgs[0].VectorIDs)
	require.False(t, msgs[0].CreatedAt.IsZero())
	require.False(t, msgs[0].ExpiresAt.IsZero())
}

func TestDisabledSinkIsNoOp(t *testing.T) {
	sink := NewDisabledSink()
	ctx := context.Background()

	require.False(t, sink.Enabled())
	require.NoError(t, sink.EnsureIndexes(ctx))
	require.Equal(t, 0, sink.InsertMessages(ctx, []Message{{Text: "x"}}))
	require.False(t, sink.InsertMessage(ctx, Message{Text: "x"}))

	msgs, err := sink.FetchRecent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)

	require.Equal(t, HealthDisabled, sink.Health(ctx).Status)
	require.NoError(t, sink.Close())
}
