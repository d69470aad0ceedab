package scheduling

import (
	"sort"

	"github.com/samber/mo"
)

// Match is one key of a two-set reconciliation. A key present on both sides
// has both options set; a key on one side only leaves the other side None.
type Match[T any] struct {
	Key   string
	Left  mo.Option[T]
	Right mo.Option[T]
}

// Both reports a key present on both sides.
func (m Match[T]) Both() bool { return m.Left.IsPresent() && m.Right.IsPresent() }

// LeftOnly reports a key present on the left side only.
func (m Match[T]) LeftOnly() bool { return m.Left.IsPresent() && m.Right.IsAbsent() }

// RightOnly reports a key present on the right side only.
func (m Match[T]) RightOnly() bool { return m.Left.IsAbsent() && m.Right.IsPresent() }

// Reconcile classifies two keyed collections per distinct key. The result
// is sorted by key, so output never depends on input iteration order.
//
// Duplicate keys within one side collapse to the last element carrying the
// key. iCalendar forbids duplicate attendee entries and duplicate
// recurrence ids in the first place, so the policy only matters for
// malformed input.
func Reconcile[T any](left, right []T, key func(T) string) []Match[T] {
	matches := make(map[string]*Match[T])
	ensure := func(k string) *Match[T] {
		m, ok := matches[k]
		if !ok {
			m = &Match[T]{Key: k}
			matches[k] = m
		}
		return m
	}

	for _, v := range left {
		ensure(key(v)).Left = mo.Some(v)
	}
	for _, v := range right {
		ensure(key(v)).Right = mo.Some(v)
	}

	keys := make([]string, 0, len(matches))
	for k := range matches {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Match[T], 0, len(keys))
	for _, k := range keys {
		out = append(out, *matches[k])
	}
	return out
}
