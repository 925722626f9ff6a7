package authz

import "sort"

// Set is an order-irrelevant unique collection of features. Unknown
// feature ids may be stored (they survive version skew between client
// and persisted data) but never grant: Has consults the catalog.
type Set struct {
	members map[Feature]struct{}
}

// NewSet builds a set from the given features, dropping duplicates.
func NewSet(features ...Feature) *Set {
	s := &Set{members: make(map[Feature]struct{}, len(features))}
	for _, f := range features {
		s.members[f] = struct{}{}
	}
	return s
}

// SetFromStrings builds a set from persisted string tokens.
func SetFromStrings(tokens []string) *Set {
	s := &Set{members: make(map[Feature]struct{}, len(tokens))}
	for _, t := range tokens {
		if t == "" {
			continue
		}
		s.members[Feature(t)] = struct{}{}
	}
	return s
}

// Has reports whether f is granted. Stored ids outside the catalog are
// ignored rather than granted, keeping the check resilient to skew.
func (s *Set) Has(f Feature) bool {
	if s == nil || !IsValidFeature(f) {
		return false
	}
	_, ok := s.members[f]
	return ok
}

// HasAll reports whether every feature is granted.
func (s *Set) HasAll(features ...Feature) bool {
	for _, f := range features {
		if !s.Has(f) {
			return false
		}
	}
	return true
}

// Add inserts a feature.
func (s *Set) Add(f Feature) {
	if s.members == nil {
		s.members = make(map[Feature]struct{})
	}
	s.members[f] = struct{}{}
}

// Remove deletes a feature.
func (s *Set) Remove(f Feature) {
	delete(s.members, f)
}

// Len returns the member count, including preserved unknown ids.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.members)
}

// Features returns all members in sorted order, including preserved
// unknown ids so that a save does not silently drop them.
func (s *Set) Features() []Feature {
	if s == nil {
		return nil
	}
	out := make([]Feature, 0, len(s.members))
	for f := range s.members {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted members as plain strings for persistence.
func (s *Set) Strings() []string {
	features := s.Features()
	out := make([]string, len(features))
	for i, f := range features {
		out[i] = string(f)
	}
	return out
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	if s == nil {
		return NewSet()
	}
	clone := &Set{members: make(map[Feature]struct{}, len(s.members))}
	for f := range s.members {
		clone.members[f] = struct{}{}
	}
	return clone
}

// Equal reports whether both sets hold exactly the same members.
func (s *Set) Equal(other *Set) bool {
	if s.Len() != other.Len() {
		return false
	}
	if s == nil {
		return true
	}
	for f := range s.members {
		if _, ok := other.members[f]; !ok {
			return false
		}
	}
	return true
}
