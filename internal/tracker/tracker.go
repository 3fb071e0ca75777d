// Package tracker persists which DNS records this tool created. Orphan
// cleanup consults it so records created by anyone else are never
// touched.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/dnssync/pkg/provider"
)

// Entry records one DNS record created by this tool.
type Entry struct {
	ID        string     `json:"id"`
	Provider  string     `json:"provider"`
	Domain    string     `json:"domain"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	ManagedBy string     `json:"managedBy"`
}

// Key returns the canonical lowercase identity of an entry.
func (e Entry) Key() string {
	return Key(e.Provider, e.Domain, e.Name, e.Type)
}

// Key builds the canonical tracker key.
func Key(providerName, domain, name, rtype string) string {
	return strings.ToLower(fmt.Sprintf("%s:%s:%s:%s", providerName, domain, name, rtype))
}

type state struct {
	Records []Entry `json:"records"`
}

// Tracker is the persisted registry of created records. Every mutation
// rewrites the full state file through a temp file and rename.
type Tracker struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
}

// New loads the tracker state from path, starting empty when the file
// does not exist yet.
func New(path string) (*Tracker, error) {
	t := &Tracker{
		path:    path,
		entries: make(map[string]Entry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("reading tracker state: %w", err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing tracker state %s: %w", path, err)
	}
	for _, e := range st.Records {
		t.entries[e.Key()] = e
	}
	return t, nil
}

// Path returns the state file location.
func (t *Tracker) Path() string {
	return t.path
}

// Len returns the number of tracked records.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Track records that a record was created or refreshed. An existing
// entry keeps its creation time and gains an update time.
func (t *Tracker) Track(providerName, domain string, rec provider.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := Key(providerName, domain, rec.Name, rec.Type)
	now := time.Now().UTC()

	if existing, ok := t.entries[key]; ok {
		existing.ID = rec.ID
		existing.UpdatedAt = &now
		t.entries[key] = existing
	} else {
		t.entries[key] = Entry{
			ID:        rec.ID,
			Provider:  providerName,
			Domain:    provider.NormalizeName(domain),
			Name:      provider.NormalizeName(rec.Name),
			Type:      rec.Type,
			CreatedAt: now,
			ManagedBy: provider.ManagedBy,
		}
	}
	return t.save()
}

// Untrack removes an entry after its record was deleted. Removing an
// unknown entry is a no-op.
func (t *Tracker) Untrack(providerName, domain, name, rtype string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := Key(providerName, domain, name, rtype)
	if _, ok := t.entries[key]; !ok {
		return nil
	}
	delete(t.entries, key)
	return t.save()
}

// IsTracked reports whether a record is registered for the given
// provider and domain.
func (t *Tracker) IsTracked(providerName, domain, name, rtype string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[Key(providerName, domain, name, rtype)]
	return ok
}

// Entries returns the tracked entries for one provider and domain,
// ordered by name then type.
func (t *Tracker) Entries(providerName, domain string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	prefix := strings.ToLower(providerName + ":" + domain + ":")
	var out []Entry
	for key, e := range t.entries {
		if strings.HasPrefix(key, prefix) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// save rewrites the full state file. Callers hold the mutex.
func (t *Tracker) save() error {
	st := state{Records: make([]Entry, 0, len(t.entries))}
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		st.Records = append(st.Records, t.entries[k])
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding tracker state: %w", err)
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating tracker state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tracker-*.json")
	if err != nil {
		return fmt.Errorf("creating tracker temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing tracker state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing tracker temp file: %w", err)
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing tracker state: %w", err)
	}
	return nil
}
