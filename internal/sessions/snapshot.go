package sessions

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontext/ocagent/internal/debounce"
	"github.com/opencontext/ocagent/pkg/models"
)

// snapshotFile is the on-disk name of the persisted session list.
const snapshotFile = "agent-sessions.json"

// Persister stores and recalls session snapshots. Save failures are
// best-effort and never surface to callers of the store.
type Persister interface {
	Load() (*models.SessionsSnapshot, error)
	Save(*models.SessionsSnapshot) error
}

// Snapshot captures every session (ids, ordering, message anchors) and the
// active selection. No in-flight request state is included.
func (s *Store) Snapshot() *models.SessionsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &models.SessionsSnapshot{
		Sessions: make([]*models.Session, 0, len(s.order)),
		ActiveID: s.activeID,
	}
	for _, id := range s.order {
		if session, ok := s.sessions[id]; ok {
			snap.Sessions = append(snap.Sessions, cloneSession(session))
		}
	}
	return snap
}

// Restore replaces the store contents with a previously captured snapshot.
func (s *Store) Restore(snap *models.SessionsSnapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	s.sessions = make(map[string]*models.Session, len(snap.Sessions))
	s.order = s.order[:0]
	for _, session := range snap.Sessions {
		clone := cloneSession(session)
		if clone.Messages == nil {
			clone.Messages = []*models.Message{}
		}
		s.sessions[clone.ID] = clone
		s.order = append(s.order, clone.ID)
	}
	s.activeID = ""
	if _, ok := s.sessions[snap.ActiveID]; ok {
		s.activeID = snap.ActiveID
	} else if len(s.order) > 0 {
		s.activeID = s.order[0]
	}
	s.mu.Unlock()
}

// FilePersister writes the snapshot as JSON under a state directory.
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister rooted at stateDir.
func NewFilePersister(stateDir string) *FilePersister {
	return &FilePersister{path: filepath.Join(stateDir, snapshotFile)}
}

// Load reads the snapshot. A missing file yields (nil, nil).
func (p *FilePersister) Load() (*models.SessionsSnapshot, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snap models.SessionsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Save writes the snapshot atomically (write temp, rename).
func (p *FilePersister) Save(snap *models.SessionsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

// Autosaver glues a store to a persister through a debouncer so bursts of
// mutations (token streams) collapse into one write.
type Autosaver struct {
	store     *Store
	persister Persister
	logger    *slog.Logger
	db        *debounce.Debouncer
}

// NewAutosaver builds the debounced save hook. Wire its OnChange into the
// store via WithOnChange.
func NewAutosaver(persister Persister, logger *slog.Logger, delay time.Duration) *Autosaver {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Autosaver{persister: persister, logger: logger}
	a.db = debounce.New(a.save, debounce.WithDelay(delay))
	return a
}

// Bind attaches the autosaver to a store. Must be called before the store
// receives traffic.
func (a *Autosaver) Bind(store *Store) {
	a.store = store
}

// OnChange schedules a debounced save.
func (a *Autosaver) OnChange() {
	a.db.Trigger()
}

// Close flushes any pending save and stops the debouncer.
func (a *Autosaver) Close() {
	a.db.Flush()
	a.db.Stop()
}

func (a *Autosaver) save() {
	if a.store == nil || a.persister == nil {
		return
	}
	if err := a.persister.Save(a.store.Snapshot()); err != nil {
		// Best-effort persistence: log and keep going.
		a.logger.Warn("session snapshot save failed", "error", err)
	}
}
