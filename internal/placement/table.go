package placement

import "github.com/rflorenc/flowdeck/internal/models"

// PathTable maps processing unit paths to IDs for one instance. Lookups are
// exact string matches: no trimming, no case folding.
type PathTable struct {
	ids       map[string]string
	ambiguous map[string]bool
}

// NewPathTable builds the lookup from a topology listing. A path that occurs
// more than once cannot identify a single unit and is left unresolvable.
func NewPathTable(units []models.ProcessingUnit) *PathTable {
	t := &PathTable{
		ids:       make(map[string]string, len(units)),
		ambiguous: make(map[string]bool),
	}
	for _, u := range units {
		if t.ambiguous[u.Path] {
			continue
		}
		if _, dup := t.ids[u.Path]; dup {
			delete(t.ids, u.Path)
			t.ambiguous[u.Path] = true
			continue
		}
		t.ids[u.Path] = u.ID
	}
	return t
}

// Lookup returns the unit ID at path.
func (t *PathTable) Lookup(path string) (string, bool) {
	if t == nil {
		return "", false
	}
	id, ok := t.ids[path]
	return id, ok
}

// Ambiguous reports whether path was listed more than once.
func (t *PathTable) Ambiguous(path string) bool {
	return t != nil && t.ambiguous[path]
}

// Len returns the number of resolvable paths.
func (t *PathTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.ids)
}
