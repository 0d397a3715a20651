package rowset

// Scope is the breadth of data a caller may see, pre-computed by the
// authorization layer. The cache engine never evaluates roles itself.
type Scope string

const (
	// ScopeAll bypasses row filtering entirely (system / super admin).
	ScopeAll Scope = "all"
	// ScopeOrganization limits rows to the caller's organization practices.
	ScopeOrganization Scope = "organization"
	// ScopeOwn limits rows to the caller's own practices.
	ScopeOwn Scope = "own"
)

// PracticeSet is a membership set of practice identifiers.
type PracticeSet map[int64]struct{}

// NewPracticeSet builds a PracticeSet from a list of ids.
func NewPracticeSet(ids ...int64) PracticeSet {
	set := make(PracticeSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Contains reports membership of id.
func (s PracticeSet) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

// PermissionContext carries the caller's pre-computed access scope into the
// post-fetch filter pipeline. It never participates in cache keys.
type PermissionContext struct {
	Scope                 Scope
	AccessiblePracticeIDs PracticeSet
}

// BypassesFiltering reports whether the context sees every row unfiltered.
func (c PermissionContext) BypassesFiltering() bool {
	return c.Scope == ScopeAll
}
