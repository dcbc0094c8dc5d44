package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPairKeyIsUnordered(t *testing.T) {
	require.Equal(t, PairKey("alice", "bob"), PairKey("bob", "alice"))
	require.NotEqual(t, PairKey("alice", "bob"), PairKey("alice", "carol"))
}

func TestStatusAfterSeen(t *testing.T) {
	req := require.New(t)
	participants := []string{"a", "b", "c"}

	req.Equal(StatusDelivered, StatusAfterSeen([]string{"a", "b"}, participants))
	req.Equal(StatusSeen, StatusAfterSeen([]string{"a", "c", "b"}, participants))
}

func TestConversationOthers(t *testing.T) {
	c := &Conversation{Participants: []string{"a", "b", "c"}}

	require.Equal(t, []string{"a", "c"}, c.Others("b"))
	require.True(t, c.HasParticipant("c"))
	require.False(t, c.HasParticipant("d"))
}
