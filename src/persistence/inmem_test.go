package persistence_test

import (
	"testing"
	"time"

	"github.com/Linkolnn/Icore/src/persistence"
	"github.com/Linkolnn/Icore/src/persistence/persistencetest"
)

func TestInmemService(t *testing.T) {
	persistencetest.Run(t, persistence.NewInmemService())
}

func TestNormalizeParticipants(t *testing.T) {
	now := time.Now()
	ps := persistence.NormalizeParticipants([]string{"a", "b", "a", ""}, "b", now)
	if len(ps) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(ps))
	}
	if ps[0].Role != persistence.Member || ps[1].Role != persistence.Owner {
		t.Fatalf("unexpected roles %+v", ps)
	}
	if !ps[0].Permissions.CanStartCall || ps[0].Permissions.CanRemoveMembers {
		t.Fatalf("unexpected member permissions %+v", ps[0].Permissions)
	}
}
