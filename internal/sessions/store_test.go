package sessions

import (
	"sync"
	"testing"

	"github.com/opencontext/ocagent/pkg/models"
)

func TestStoreSessionLifecycle(t *testing.T) {
	store := NewStore()

	session := store.Create(CreateConfig{Name: "scratch", ProviderID: models.ProviderCodex})
	if session.ID == "" {
		t.Fatal("expected session id to be assigned")
	}
	if store.ActiveID() != session.ID {
		t.Fatalf("expected first session to become active, got %q", store.ActiveID())
	}

	if ok := store.Update(session.ID, func(s *models.Session) { s.Model = "gpt-5.2-codex" }); !ok {
		t.Fatal("Update() returned false for existing session")
	}
	updated := store.Get(session.ID)
	if updated.Model != "gpt-5.2-codex" {
		t.Fatalf("expected model to update, got %q", updated.Model)
	}
	if !updated.UpdatedAt.After(session.UpdatedAt) && !updated.UpdatedAt.Equal(session.UpdatedAt) {
		t.Fatal("expected UpdatedAt to be stamped")
	}

	if ok := store.Delete(session.ID); !ok {
		t.Fatal("Delete() returned false for existing session")
	}
	if store.Get(session.ID) != nil {
		t.Fatal("expected session to be gone")
	}
}

func TestStoreUpdateUnknownIsNoop(t *testing.T) {
	store := NewStore()
	if store.Update("missing", func(s *models.Session) { s.Name = "x" }) {
		t.Fatal("expected Update on unknown id to return false")
	}
}

func TestStoreDeleteActiveReselects(t *testing.T) {
	store := NewStore()
	first := store.Create(CreateConfig{ProviderID: models.ProviderClaude})
	second := store.Create(CreateConfig{ProviderID: models.ProviderClaude})

	if !store.SetActive(second.ID) {
		t.Fatal("SetActive() failed")
	}
	store.Delete(second.ID)
	if store.ActiveID() != first.ID {
		t.Fatalf("expected selection to fall back to first session, got %q", store.ActiveID())
	}

	store.Delete(first.ID)
	if store.ActiveID() != "" {
		t.Fatalf("expected empty selection, got %q", store.ActiveID())
	}
}

func TestStoreClonesOnRead(t *testing.T) {
	store := NewStore()
	session := store.Create(CreateConfig{ProviderID: models.ProviderCodex})
	store.AppendMessages(session.ID, &models.Message{Role: models.RoleUser, Kind: models.KindText, Content: "hi"})

	got := store.Get(session.ID)
	got.Messages[0].Content = "mutated"

	if store.Get(session.ID).Messages[0].Content != "hi" {
		t.Fatal("expected reads to return clones")
	}
}

func TestStoreOnChangeFires(t *testing.T) {
	var mu sync.Mutex
	changes := 0
	store := NewStore(WithOnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	}))

	session := store.Create(CreateConfig{ProviderID: models.ProviderOpenCode})
	store.Update(session.ID, func(s *models.Session) { s.Name = "renamed" })
	store.Delete(session.ID)

	mu.Lock()
	defer mu.Unlock()
	if changes != 3 {
		t.Fatalf("expected 3 change notifications, got %d", changes)
	}
}

func TestStoreConcurrentSessionsIsolated(t *testing.T) {
	t.Parallel()
	store := NewStore()
	a := store.Create(CreateConfig{ProviderID: models.ProviderCodex})
	b := store.Create(CreateConfig{ProviderID: models.ProviderClaude})

	var wg sync.WaitGroup
	for _, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				store.AppendMessages(sessionID, &models.Message{Role: models.RoleUser, Kind: models.KindText, Content: "m"})
			}
		}(id)
	}
	wg.Wait()

	if n := len(store.Messages(a.ID)); n != 100 {
		t.Fatalf("session a: expected 100 messages, got %d", n)
	}
	if n := len(store.Messages(b.ID)); n != 100 {
		t.Fatalf("session b: expected 100 messages, got %d", n)
	}
}
