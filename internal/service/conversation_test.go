package service

import (
	"sync"
	"testing"

	"github.com/fathima-sithara/realtime-chat/internal/apperr"
	"github.com/fathima-sithara/realtime-chat/internal/domain"
	"github.com/fathima-sithara/realtime-chat/internal/hub"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreate_DirectIsIdempotentPerPair(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "A", "B")
	bConn := e.connect(t, "b", "B")

	first, created, err := e.convs.Create(e.ctx, "A", CreateConversationInput{Type: domain.ConversationDirect, Participants: []string{"B"}})
	req.NoError(err)
	req.True(created)

	// When B opens the same pair from the other side
	again, created, err := e.convs.Create(e.ctx, "B", CreateConversationInput{Type: domain.ConversationDirect, Participants: []string{"A", "B"}})
	req.NoError(err)
	req.False(created)
	req.Equal(first.ID, again.ID)
	req.Empty(first.Admin)

	// Then only one conversation exists and it was announced once
	list, err := e.convs.List(e.ctx, "A")
	req.NoError(err)
	req.Len(list, 1)
	req.Equal(1, bConn.count(domain.EventConversationCreated))
}

func TestCreate_DirectConcurrent(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "A", "B")

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creator, other := "A", "B"
			if i%2 == 1 {
				creator, other = "B", "A"
			}
			conv, _, err := e.convs.Create(e.ctx, creator, CreateConversationInput{Type: domain.ConversationDirect, Participants: []string{other}})
			if err == nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		req.Equal(ids[0], id)
	}
}

func TestCreate_Validation(t *testing.T) {
	e := newTestEnv(t, "A", "B", "C")
	cases := []struct {
		name string
		in   CreateConversationInput
		kind apperr.Kind
	}{
		{"bad type", CreateConversationInput{Type: "channel", Participants: []string{"B"}}, apperr.KindValidation},
		{"no participants", CreateConversationInput{Type: domain.ConversationGroup}, apperr.KindValidation},
		{"only self", CreateConversationInput{Type: domain.ConversationDirect, Participants: []string{"A"}}, apperr.KindValidation},
		{"direct with two others", CreateConversationInput{Type: domain.ConversationDirect, Participants: []string{"B", "C"}}, apperr.KindValidation},
		{"unknown user", CreateConversationInput{Type: domain.ConversationGroup, Participants: []string{"B", "Z"}}, apperr.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := e.convs.Create(e.ctx, "A", tc.in)
			require.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
}

func TestCreate_GroupAnnouncedToEveryParticipant(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "A", "B", "C")
	aConn, bConn, cConn := e.connect(t, "a", "A"), e.connect(t, "b", "B"), e.connect(t, "c", "C")

	conv := e.group(t, "A", "B", "C", "B")

	req.Equal("A", conv.Admin)
	req.Equal([]string{"A", "B", "C"}, conv.Participants)
	for _, c := range []*recConn{aConn, bConn, cConn} {
		req.Equal(1, c.count(domain.EventConversationCreated))
	}
}

func TestRemoveMember_AdminCannotBeRemoved(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "A", "B", "C")
	conv := e.group(t, "A", "B", "C")

	_, err := e.convs.RemoveMember(e.ctx, conv.ID, "A", "A")
	req.Equal(apperr.KindValidation, apperr.KindOf(err))

	_, err = e.convs.RemoveMember(e.ctx, conv.ID, "B", "A")
	req.Equal(apperr.KindAuthorization, apperr.KindOf(err))

	stored, err := e.store.GetConversation(e.ctx, conv.ID)
	req.NoError(err)
	req.Contains(stored.Participants, "A")
}

func TestRemoveMember_EvictsAndNotifies(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "A", "B", "C")
	conv := e.group(t, "A", "B", "C")
	cConn := e.connect(t, "c", "C")
	req.NoError(e.hub.Join("c", hub.ConversationRoom(conv.ID)))

	updated, err := e.convs.RemoveMember(e.ctx, conv.ID, "A", "C")
	req.NoError(err)
	req.Equal([]string{"A", "B"}, updated.Participants)

	req.False(e.hub.InRoom("c", hub.ConversationRoom(conv.ID)))
	req.Equal(1, cConn.count(domain.EventConversationUpdated))

	_, err = e.convs.RemoveMember(e.ctx, conv.ID, "A", "C")
	req.Equal(apperr.KindNotFound, apperr.KindOf(err))

	// two participants is the floor for a group
	_, err = e.convs.RemoveMember(e.ctx, conv.ID, "A", "B")
	req.Equal(apperr.KindValidation, apperr.KindOf(err))
}

func TestAddMember_Rules(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "A", "B", "C", "D")
	group := e.group(t, "A", "B")
	direct := e.direct(t, "A", "C")

	updated, err := e.convs.AddMember(e.ctx, group.ID, "A", "C")
	req.NoError(err)
	req.Contains(updated.Participants, "C")

	_, err = e.convs.UpdateMember(e.ctx, group.ID, "A", "C")
	req.Equal(apperr.KindConflict, apperr.KindOf(err))

	_, err = e.convs.AddMember(e.ctx, group.ID, "B", "D")
	req.Equal(apperr.KindAuthorization, apperr.KindOf(err))

	_, err = e.convs.AddMember(e.ctx, direct.ID, "A", "D")
	req.Equal(apperr.KindValidation, apperr.KindOf(err))

	_, err = e.convs.AddMember(e.ctx, group.ID, "A", "ghost")
	req.Equal(apperr.KindNotFound, apperr.KindOf(err))
}

func TestRename(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "A", "B")
	conv := e.group(t, "A", "B")

	updated, err := e.convs.Rename(e.ctx, conv.ID, "A", "  launch ")
	req.NoError(err)
	req.Equal("launch", updated.Name)

	_, err = e.convs.Rename(e.ctx, conv.ID, "B", "mine")
	req.Equal(apperr.KindAuthorization, apperr.KindOf(err))
	_, err = e.convs.Rename(e.ctx, conv.ID, "A", "")
	req.Equal(apperr.KindValidation, apperr.KindOf(err))
}

func TestDelete_Conversation(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "A", "B", "C")
	group := e.group(t, "A", "B")
	direct := e.direct(t, "B", "C")
	e.send(t, "A", group.ID, "bye")
	bConn := e.connect(t, "b", "B")

	req.Equal(apperr.KindAuthorization, apperr.KindOf(e.convs.Delete(e.ctx, group.ID, "B")))
	req.NoError(e.convs.Delete(e.ctx, group.ID, "A"))
	req.Equal(1, bConn.count(domain.EventConversationDeleted))
	msgs, err := e.store.ListMessages(e.ctx, group.ID, nil, 0)
	req.NoError(err)
	req.Empty(msgs)

	req.Equal(apperr.KindAuthorization, apperr.KindOf(e.convs.Delete(e.ctx, direct.ID, "A")))
	req.NoError(e.convs.Delete(e.ctx, direct.ID, "C"))
	req.Equal(apperr.KindNotFound, apperr.KindOf(e.convs.Delete(e.ctx, direct.ID, "C")))
}

func TestDelete_StoreFailureKeepsHistory(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "A", "B")
	conv := e.direct(t, "A", "B")
	e.send(t, "A", conv.ID, "keep me")
	bConn := e.connect(t, "b", "B")

	// Given a store that cannot delete the conversation
	store := &flakyStore{MemoryStore: e.store, failDeleteConversation: true}
	svc := NewConversationService(store, e.hub, nil, NewStamper(nil), zap.NewNop().Sugar())

	// When A deletes it
	err := svc.Delete(e.ctx, conv.ID, "A")

	// Then the call fails and the conversation keeps its messages
	req.Equal(apperr.KindInternal, apperr.KindOf(err))
	_, err = e.store.GetConversation(e.ctx, conv.ID)
	req.NoError(err)
	msgs, err := e.store.ListMessages(e.ctx, conv.ID, nil, 0)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Zero(bConn.count(domain.EventConversationDeleted))
}

func TestList_UnreadPerViewer(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "A", "B", "C")
	ab := e.direct(t, "A", "B")
	group := e.group(t, "A", "B", "C")
	e.send(t, "A", ab.ID, "1")
	e.send(t, "A", ab.ID, "2")
	last := e.send(t, "C", group.ID, "3")

	list, err := e.convs.List(e.ctx, "B")
	req.NoError(err)
	req.Len(list, 2)
	// most recently updated first
	req.Equal(group.ID, list[0].ID)
	req.EqualValues(1, list[0].UnreadCount)
	req.Equal(last.ID, list[0].LastMessage.ID)
	req.Equal(ab.ID, list[1].ID)
	req.EqualValues(2, list[1].UnreadCount)

	list, err = e.convs.List(e.ctx, "A")
	req.NoError(err)
	req.EqualValues(0, list[1].UnreadCount)
}
