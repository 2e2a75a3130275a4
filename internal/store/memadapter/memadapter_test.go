package memadapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chathub/relay/internal/store"
	"github.com/chathub/relay/internal/store/memadapter"
)

func TestInsertChannelWithMembers(t *testing.T) {
	a := memadapter.New()
	ctx := context.Background()

	ch, joins, err := a.InsertChannelWithMembers(ctx, "g1", true, []store.UserID{"a", "b", "c"})
	require.NoError(t, err)
	require.True(t, ch.IsGroupChat)
	require.Len(t, joins, 3)

	members, err := a.JoinInfosByChannel(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, members, 3)

	_, _, err = a.InsertChannelWithMembers(ctx, "g1", true, []store.UserID{"a"})
	require.Error(t, err)
}

func TestWithdrawalLogThenDeleteRemovesMember(t *testing.T) {
	a := memadapter.New()
	ctx := context.Background()

	_, _, err := a.InsertChannelWithMembers(ctx, "g1", true, []store.UserID{"a", "b"})
	require.NoError(t, err)

	ji, err := a.GetJoinInfo(ctx, "g1", "a")
	require.NoError(t, err)

	require.NoError(t, a.PutWithdrawalLog(ctx, store.WithdrawalLog{
		Channel: "g1", UserID: "a", JoinedAt: ji.JoinedAt, LastReadAt: ji.LastReadAt, WithdrawnAt: time.Now(),
	}))
	require.NoError(t, a.DeleteJoinInfo(ctx, "g1", "a"))

	members, err := a.JoinInfosByChannel(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, store.UserID("b"), members[0].UserID)

	_, err = a.GetJoinInfo(ctx, "g1", "a")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveMessageStrictlyIncreasing(t *testing.T) {
	a := memadapter.New()
	ctx := context.Background()

	m1, err := a.SaveMessage(ctx, store.Message{Channel: "g1", Writer: "a", Type: "text", Body: "hi"})
	require.NoError(t, err)
	m2, err := a.SaveMessage(ctx, store.Message{Channel: "g1", Writer: "b", Type: "text", Body: "yo"})
	require.NoError(t, err)

	require.True(t, m2.PublishedAt.After(m1.PublishedAt))

	msgs, err := a.QueryMessages(ctx, "g1", store.MessageQuery{NewestFirst: true})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "yo", msgs[0].Body)

	n, err := a.CountMessages(ctx, "g1", m1.PublishedAt)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestJoinInfoNeverPersistsTransientField(t *testing.T) {
	a := memadapter.New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, a.PutJoinInfo(ctx, store.JoinInfo{
		Channel: "g1", UserID: "a", JoinedAt: now, LastPublishedAt: &now,
	}))

	ji, err := a.GetJoinInfo(ctx, "g1", "a")
	require.NoError(t, err)
	require.Nil(t, ji.LastPublishedAt)
}
