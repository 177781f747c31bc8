// Package persistencetest runs the behaviour every persistence.Service
// implementation must share.
package persistencetest

import (
	"context"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/persistence"
)

// Run exercises svc. It must be empty.
func Run(t *testing.T, svc persistence.Service) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	group, err := svc.CreateChat(ctx, &persistence.Chat{
		Type:         persistence.Group,
		Name:         "team",
		Participants: persistence.NormalizeParticipants([]string{"alice", "bob", "carol"}, "alice", now),
		CreatedAt:    now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if group.ID == "" {
		t.Fatal("CreateChat should generate an id")
	}

	personal, err := svc.CreateChat(ctx, &persistence.Chat{
		ID:           "p1",
		Type:         persistence.Personal,
		Participants: persistence.NormalizeParticipants([]string{"alice", "bob"}, "", now),
		CreatedAt:    now,
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("Chat", func(t *testing.T) {
		c, err := svc.GetChat(ctx, group.ID)
		if err != nil {
			t.Fatal(err)
		}
		if c.Type != persistence.Group || c.Name != "team" || len(c.Participants) != 3 {
			t.Fatalf("unexpected chat %+v", c)
		}
		owner, ok := c.Participant("alice")
		if !ok || owner.Role != persistence.Owner || !owner.Permissions.CanStartCall || !owner.Permissions.CanAddMembers {
			t.Fatalf("unexpected owner %+v", owner)
		}
		member, _ := c.Participant("bob")
		if member.Role != persistence.Member || member.Permissions.CanAddMembers || !member.Permissions.CanStartCall {
			t.Fatalf("unexpected member %+v", member)
		}

		ids, err := svc.GetChatParticipants(ctx, group.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(ids, []string{"alice", "bob", "carol"}) {
			t.Fatalf("unexpected participants %v", ids)
		}

		ok, err = svc.IsParticipant(ctx, personal.ID, "carol")
		if err != nil || ok {
			t.Fatalf("carol is not in the personal chat: %v %v", ok, err)
		}
		ok, err = svc.IsParticipant(ctx, personal.ID, "bob")
		if err != nil || !ok {
			t.Fatalf("bob is in the personal chat: %v %v", ok, err)
		}

		if _, err := svc.GetChat(ctx, "missing"); !common.Is(err, common.NotFound) {
			t.Fatalf("expected NotFound, got %v", err)
		}
		if _, err := svc.CreateChat(ctx, &persistence.Chat{ID: "p1", Type: persistence.Personal, Participants: personal.Participants}); !common.Is(err, common.Conflict) {
			t.Fatalf("expected Conflict, got %v", err)
		}
	})

	var first, second *persistence.Message

	t.Run("Messages", func(t *testing.T) {
		first, err = svc.AppendMessage(ctx, &persistence.Message{
			ChatID:    group.ID,
			SenderID:  "alice",
			Text:      "hello",
			CreatedAt: now,
		})
		if err != nil {
			t.Fatal(err)
		}
		if first.ID == "" || first.Status != persistence.Sent || first.Type != "text" {
			t.Fatalf("unexpected message %+v", first)
		}

		second, err = svc.AppendMessage(ctx, &persistence.Message{
			ChatID:    group.ID,
			SenderID:  "bob",
			Text:      "hi",
			ReplyTo:   first.ID,
			Forwarded: &persistence.Forwarded{FromUserID: "dave"},
			CreatedAt: now.Add(time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}

		m, err := svc.GetMessage(ctx, second.ID)
		if err != nil {
			t.Fatal(err)
		}
		if m.ReplyTo != first.ID || m.Forwarded == nil || m.Forwarded.FromUserID != "dave" {
			t.Fatalf("unexpected message %+v", m)
		}
		if !m.CreatedAt.Equal(now.Add(time.Second)) {
			t.Fatalf("unexpected CreatedAt %v", m.CreatedAt)
		}

		if err := svc.UpdateLastMessage(ctx, group.ID, second); err != nil {
			t.Fatal(err)
		}
		c, err := svc.GetChat(ctx, group.ID)
		if err != nil {
			t.Fatal(err)
		}
		if c.LastMessage == nil || c.LastMessage.ID != second.ID {
			t.Fatalf("unexpected last message %+v", c.LastMessage)
		}

		edited, err := svc.EditMessage(ctx, first.ID, "hello!", now.Add(2*time.Second))
		if err != nil {
			t.Fatal(err)
		}
		if edited.Text != "hello!" || edited.EditedAt == nil {
			t.Fatalf("unexpected edited message %+v", edited)
		}

		if _, err := svc.AppendMessage(ctx, &persistence.Message{ChatID: "missing", SenderID: "alice", Text: "x"}); !common.Is(err, common.NotFound) {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		latest, err := svc.LatestMessage(ctx, group.ID)
		if err != nil {
			t.Fatal(err)
		}
		if latest.ID != second.ID {
			t.Fatalf("expected latest %s, got %s", second.ID, latest.ID)
		}

		deleted, err := svc.DeleteMessage(ctx, second.ID, now)
		if err != nil {
			t.Fatal(err)
		}
		if !deleted.IsDeleted {
			t.Fatal("message should be deleted")
		}
		if _, err := svc.DeleteMessage(ctx, second.ID, now); !common.Is(err, common.NotFound) {
			t.Fatalf("deleting twice should return NotFound, got %v", err)
		}

		latest, err = svc.LatestMessage(ctx, group.ID)
		if err != nil {
			t.Fatal(err)
		}
		if latest.ID != first.ID {
			t.Fatalf("expected latest %s after delete, got %s", first.ID, latest.ID)
		}

		if _, err := svc.LatestMessage(ctx, personal.ID); !common.Is(err, common.NotFound) {
			t.Fatalf("empty chat should have no latest message, got %v", err)
		}

		if err := svc.UpdateLastMessage(ctx, group.ID, nil); err != nil {
			t.Fatal(err)
		}
		c, _ := svc.GetChat(ctx, group.ID)
		if c.LastMessage != nil {
			t.Fatal("last message should be cleared")
		}
	})

	t.Run("Unread", func(t *testing.T) {
		counts, err := svc.UnreadCounts(ctx, group.ID)
		if err != nil {
			t.Fatal(err)
		}
		if counts["bob"] != 0 {
			t.Fatalf("missing counters should read as zero, got %v", counts)
		}

		svc.IncrementUnread(ctx, group.ID, "alice")
		res, err := svc.IncrementUnread(ctx, group.ID, "bob")
		if err != nil {
			t.Fatal(err)
		}
		if res["alice"] != 1 || res["bob"] != 1 || res["carol"] != 2 {
			t.Fatalf("unexpected counters %v", res)
		}

		if err := svc.ResetUnread(ctx, group.ID, "carol"); err != nil {
			t.Fatal(err)
		}
		counts, err = svc.UnreadCounts(ctx, group.ID)
		if err != nil {
			t.Fatal(err)
		}
		if counts["carol"] != 0 || counts["alice"] != 1 {
			t.Fatalf("unexpected counters %v", counts)
		}

		c, _ := svc.GetChat(ctx, group.ID)
		if c.UnreadCount["alice"] != 1 {
			t.Fatalf("GetChat should carry counters, got %v", c.UnreadCount)
		}
	})

	t.Run("MarkMessagesRead", func(t *testing.T) {
		third, err := svc.AppendMessage(ctx, &persistence.Message{ChatID: group.ID, SenderID: "alice", Text: "third", CreatedAt: now.Add(3 * time.Second)})
		if err != nil {
			t.Fatal(err)
		}

		ids, err := svc.MarkMessagesRead(ctx, group.ID, "carol", now, true)
		if err != nil {
			t.Fatal(err)
		}
		sort.Strings(ids)
		expected := []string{first.ID, third.ID}
		sort.Strings(expected)
		if !reflect.DeepEqual(ids, expected) {
			t.Fatalf("expected %v, got %v", expected, ids)
		}

		ids, _ = svc.MarkMessagesRead(ctx, group.ID, "bob", now, true)
		if len(ids) != 2 {
			t.Fatalf("bob should read 2 messages, got %v", ids)
		}

		m, _ := svc.GetMessage(ctx, third.ID)
		if !m.ReadByUser("carol") || !m.ReadByUser("bob") || len(m.ReadBy) != 2 {
			t.Fatalf("unexpected read set %+v", m.ReadBy)
		}
		if m.Status != persistence.Sent {
			t.Fatal("group read receipts should not overwrite the status")
		}

		ids, _ = svc.MarkMessagesRead(ctx, group.ID, "carol", now, true)
		if len(ids) != 0 {
			t.Fatalf("reading twice should affect nothing, got %v", ids)
		}

		p, _ := svc.AppendMessage(ctx, &persistence.Message{ChatID: personal.ID, SenderID: "alice", Text: "yo", CreatedAt: now})
		ids, _ = svc.MarkMessagesRead(ctx, personal.ID, "bob", now, false)
		if !reflect.DeepEqual(ids, []string{p.ID}) {
			t.Fatalf("expected [%s], got %v", p.ID, ids)
		}
		m, _ = svc.GetMessage(ctx, p.ID)
		if m.Status != persistence.Read {
			t.Fatalf("personal message status should be read, got %s", m.Status)
		}
		ids, _ = svc.MarkMessagesRead(ctx, personal.ID, "alice", now, false)
		if len(ids) != 0 {
			t.Fatal("the sender does not read their own messages")
		}
	})
}
