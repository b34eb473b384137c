package release

import (
	"sort"
	"strings"
)

// mapDiff splits the keys of two maps into added, changed and deleted sets,
// each sorted for stable rendering.
func mapDiff(old map[string]string, new map[string]string) (added []string, changed []string, deleted []string) {
	for k, v := range new {
		prev, ok := old[k]
		if !ok {
			added = append(added, k)
		} else if prev != v {
			changed = append(changed, k)
		}
	}
	for k := range old {
		if _, ok := new[k]; !ok {
			deleted = append(deleted, k)
		}
	}
	sort.Strings(added)
	sort.Strings(changed)
	sort.Strings(deleted)
	return
}

// renderDiff phrases a diff as "added A, B, changed C, deleted D".
// The qualifier sits between the verb and the keys ("added limit for web").
// Empty clauses are omitted. Empty string when nothing differs.
func renderDiff(added []string, changed []string, deleted []string, qualifier string) string {
	clauses := []string{}
	for _, part := range []struct {
		verb string
		keys []string
	}{
		{"added", added}, {"changed", changed}, {"deleted", deleted},
	} {
		if len(part.keys) == 0 {
			continue
		}
		clauses = append(clauses, part.verb+" "+qualifier+strings.Join(part.keys, ", "))
	}
	return strings.Join(clauses, ", ")
}
