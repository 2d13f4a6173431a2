package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opencontext/ocagent/pkg/models"
)

// catalogFile is the on-disk name of the model catalog.
const catalogFile = "agent-models.json"

// defaultCodexModels is advertised when the catalog has no codex entry.
var defaultCodexModels = []string{
	"gpt-5.2-codex",
	"gpt-5.1-codex-max",
	"gpt-5.1-codex-mini",
	"gpt-5.2",
}

// Catalog is the shared per-provider model registry. Preflight results are
// written into it (last-write-wins); reads are frequent and cheap.
type Catalog struct {
	mu    sync.RWMutex
	lists map[models.ProviderID][]string
	path  string
}

// NewCatalog creates a catalog persisted under stateDir.
func NewCatalog(stateDir string) *Catalog {
	return &Catalog{
		lists: map[models.ProviderID][]string{},
		path:  filepath.Join(stateDir, catalogFile),
	}
}

// Models returns the model list for a provider. Codex falls back to the
// built-in defaults when nothing has been advertised or configured.
func (c *Catalog) Models(provider models.ProviderID) []string {
	c.mu.RLock()
	list := c.lists[provider]
	c.mu.RUnlock()
	if len(list) == 0 && provider == models.ProviderCodex {
		return append([]string(nil), defaultCodexModels...)
	}
	return append([]string(nil), list...)
}

// SetModels replaces a provider's model list. Entries are trimmed; empties
// dropped. Last write wins across sessions.
func (c *Catalog) SetModels(provider models.ProviderID, list []string) {
	cleaned := cleanModelList(list)
	c.mu.Lock()
	if len(cleaned) == 0 {
		delete(c.lists, provider)
	} else {
		c.lists[provider] = cleaned
	}
	c.mu.Unlock()
}

// Load reads the catalog file. Missing files leave the defaults in place.
func (c *Catalog) Load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists = map[models.ProviderID][]string{}
	for key, value := range raw {
		list := ParseModelList(value)
		if len(list) > 0 {
			c.lists[models.ProviderID(key)] = list
		}
	}
	return nil
}

// Save writes the catalog file.
func (c *Catalog) Save() error {
	c.mu.RLock()
	out := make(map[string][]string, len(c.lists))
	for provider, list := range c.lists {
		out[string(provider)] = list
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o644)
}

// Path returns the catalog file location (used by the watcher).
func (c *Catalog) Path() string {
	return c.path
}

// ParseModelList accepts either a JSON array of strings or a single string
// of comma/newline separated names, mirroring the tolerant shapes users put
// in hand-edited catalog files.
func ParseModelList(raw json.RawMessage) []string {
	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		return cleanModelList(asList)
	}
	var asText string
	if err := json.Unmarshal(raw, &asText); err == nil {
		var parts []string
		for _, line := range strings.Split(asText, "\n") {
			parts = append(parts, strings.Split(line, ",")...)
		}
		return cleanModelList(parts)
	}
	return nil
}

func cleanModelList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
