package firmware

import "github.com/thawkins/gcodekit4-sub000/types"

// capEntry pairs a (major, minor) floor with the flags that apply from
// that version onward, for one dialect.
type capEntry struct {
	major, minor int
	flags        types.CapabilityFlags
}

// CapRegistry is a pre-populated, queryable (dialect, version) -> flags
// table (spec.md §4.10). Each dialect adapter owns one, built at init
// time via NewCapRegistry + Add, and consults it from Capabilities().
type CapRegistry struct {
	dialect  types.Dialect
	baseline types.CapabilityFlags
	entries  []capEntry // kept sorted ascending by (major, minor)
}

// NewCapRegistry creates a registry whose baseline descriptor is used
// when no version-specific entry matches.
func NewCapRegistry(dialect types.Dialect, baseline types.CapabilityFlags) *CapRegistry {
	return &CapRegistry{dialect: dialect, baseline: baseline}
}

// Add registers the flags that apply starting at major.minor. Entries
// may be added in any order; Add keeps them sorted as they are inserted.
func (r *CapRegistry) Add(major, minor int, flags types.CapabilityFlags) *CapRegistry {
	r.entries = append(r.entries, capEntry{major: major, minor: minor, flags: flags})
	// Keep ascending by (major, minor) so Resolve can scan for "nearest
	// earlier" without a separate sort pass per lookup.
	for i := len(r.entries) - 1; i > 0; i-- {
		a, b := r.entries[i-1], r.entries[i]
		if a.major > b.major || (a.major == b.major && a.minor > b.minor) {
			r.entries[i-1], r.entries[i] = r.entries[i], r.entries[i-1]
			continue
		}
		break
	}
	return r
}

// Resolve applies spec.md §4.10's matching rule: exact (major.minor)
// preferred, else the nearest earlier (major.minor) of the same dialect,
// else the dialect's baseline descriptor.
func (r *CapRegistry) Resolve(v types.Version) types.CapabilityFlags {
	var best *capEntry
	for i := range r.entries {
		e := &r.entries[i]
		if e.major == v.Major && e.minor == v.Minor {
			return e.flags // exact match
		}
		if e.major < v.Major || (e.major == v.Major && e.minor < v.Minor) {
			best = e // entries are sorted ascending, so the last one found wins
		}
	}
	if best != nil {
		return best.flags
	}
	return r.baseline
}
