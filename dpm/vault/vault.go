package vault

import (
	"errors"
	"slices"
	"strings"

	"github.com/TheusHen/DPM/dpm/crypto"
)

var (
	ErrInvalidEntry   = errors.New("vault: entry needs a name and a password")
	ErrDuplicateEntry = errors.New("vault: entry name already exists")
)

// Entry is one stored credential.
type Entry struct {
	Name     string `json:"name"`
	Password []byte `json:"password"`
}

func (e Entry) Validate() error {
	if strings.TrimSpace(e.Name) == "" || e.Password == nil {
		return ErrInvalidEntry
	}
	return nil
}

func (e Entry) clone() Entry {
	return Entry{Name: e.Name, Password: append([]byte{}, e.Password...)}
}

func entryKey(name string) string { return strings.ToLower(name) }

// Vault is an ordered set of entries. Names are unique ignoring case.
// A Vault is not safe for concurrent use.
type Vault struct {
	entries []Entry
}

// New returns an empty vault.
func New() *Vault {
	return &Vault{}
}

func (v *Vault) find(name string) (int, bool) {
	return slices.BinarySearchFunc(v.entries, entryKey(name), func(e Entry, key string) int {
		return strings.Compare(entryKey(e.Name), key)
	})
}

// Add inserts e. It fails if an entry with the same name, ignoring case, exists.
func (v *Vault) Add(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	i, found := v.find(e.Name)
	if found {
		return ErrDuplicateEntry
	}
	v.entries = slices.Insert(v.entries, i, e.clone())
	return nil
}

// Remove deletes the entry called name and reports whether it existed.
func (v *Vault) Remove(name string) bool {
	i, found := v.find(name)
	if !found {
		return false
	}
	crypto.Zero(v.entries[i].Password)
	v.entries = slices.Delete(v.entries, i, i+1)
	return true
}

func (v *Vault) Get(name string) (Entry, bool) {
	i, found := v.find(name)
	if !found {
		return Entry{}, false
	}
	return v.entries[i].clone(), true
}

// Search returns the entries whose name contains query, ignoring case.
func (v *Vault) Search(query string) []Entry {
	q := strings.ToLower(query)
	var out []Entry
	for _, e := range v.entries {
		if strings.Contains(entryKey(e.Name), q) {
			out = append(out, e.clone())
		}
	}
	return out
}

// All returns a copy of every entry in order.
func (v *Vault) All() []Entry {
	out := make([]Entry, 0, len(v.entries))
	for _, e := range v.entries {
		out = append(out, e.clone())
	}
	return out
}

func (v *Vault) Len() int { return len(v.entries) }

// Clear zeroes every password and empties the vault.
func (v *Vault) Clear() {
	for _, e := range v.entries {
		crypto.Zero(e.Password)
	}
	v.entries = nil
}

// Equal reports whether both vaults hold the same entries.
func (v *Vault) Equal(other *Vault) bool {
	return slices.EqualFunc(v.entries, other.entries, func(a, b Entry) bool {
		return a.Name == b.Name && string(a.Password) == string(b.Password)
	})
}
