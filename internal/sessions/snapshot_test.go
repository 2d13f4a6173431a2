package sessions

import (
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/opencontext/ocagent/pkg/models"
)

func TestSnapshotRoundTrip(t *testing.T) {
	store := NewStore()
	a := store.Create(CreateConfig{Name: "first", ProviderID: models.ProviderCodex, Model: "gpt-5.2"})
	b := store.Create(CreateConfig{Name: "second", ProviderID: models.ProviderClaude})
	store.SetActive(b.ID)

	appended := store.AppendMessages(a.ID,
		&models.Message{Role: models.RoleUser, Kind: models.KindText, Content: "hi"},
		&models.Message{Role: models.RoleAssistant, Kind: models.KindText, Content: "hello"},
	)
	store.InsertAfter(a.ID, appended[1].ID, &models.Message{
		Role: models.RoleTool, Kind: models.KindTool, Content: "ls\nexit: 0", AnchorID: appended[1].ID,
	})

	restored := NewStore()
	restored.Restore(store.Snapshot())

	if restored.ActiveID() != b.ID {
		t.Fatalf("expected active id %q, got %q", b.ID, restored.ActiveID())
	}

	orig := store.List()
	back := restored.List()
	if len(back) != len(orig) {
		t.Fatalf("expected %d sessions, got %d", len(orig), len(back))
	}
	for i := range orig {
		if orig[i].ID != back[i].ID {
			t.Fatalf("session order diverged at %d: %q vs %q", i, orig[i].ID, back[i].ID)
		}
		if !reflect.DeepEqual(orig[i].Messages, back[i].Messages) {
			t.Fatalf("session %q messages diverged after round-trip", orig[i].ID)
		}
	}
}

func TestFilePersisterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := NewFilePersister(dir)

	if snap, err := p.Load(); err != nil || snap != nil {
		t.Fatalf("Load() on empty dir = %v, %v; want nil, nil", snap, err)
	}

	store := NewStore()
	s := store.Create(CreateConfig{Name: "persisted", ProviderID: models.ProviderOpenCode})
	store.AppendMessages(s.ID, &models.Message{Role: models.RoleUser, Kind: models.KindText, Content: "save me"})

	if err := p.Save(store.Snapshot()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := p.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Sessions) != 1 || loaded.Sessions[0].Name != "persisted" {
		t.Fatalf("unexpected snapshot after reload: %+v", loaded)
	}
	if loaded.Sessions[0].Messages[0].Content != "save me" {
		t.Fatal("expected message content to survive reload")
	}
}

type failingPersister struct {
	mu    sync.Mutex
	calls int
}

func (f *failingPersister) Load() (*models.SessionsSnapshot, error) { return nil, nil }

func (f *failingPersister) Save(*models.SessionsSnapshot) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("disk full")
}

func TestAutosaverSwallowsSaveFailures(t *testing.T) {
	persister := &failingPersister{}
	saver := NewAutosaver(persister, slog.Default(), 10*time.Millisecond)
	defer saver.Close()

	store := NewStore(WithOnChange(saver.OnChange))
	saver.Bind(store)

	// A burst of mutations collapses into one failed save; nothing panics
	// and the store stays usable.
	s := store.Create(CreateConfig{ProviderID: models.ProviderCodex})
	for i := 0; i < 20; i++ {
		store.AppendMessages(s.ID, &models.Message{Role: models.RoleUser, Kind: models.KindText, Content: "m"})
	}

	time.Sleep(60 * time.Millisecond)

	persister.mu.Lock()
	calls := persister.calls
	persister.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected 1 debounced save attempt, got %d", calls)
	}
	if len(store.Messages(s.ID)) != 20 {
		t.Fatal("store must stay consistent when persistence fails")
	}
}
