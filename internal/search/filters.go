package search

import (
	"crypto/sha256"
	"path"
	"sort"
	"strings"

	"github.com/nightshadow92/cbird/internal/store"
)

// archiveSeparators lists the markers treated as an archive-member
// boundary when computing a record's immediate container: anything
// before the last occurrence of one of these is the archive path itself.
var archiveSeparators = []string{".zip/", ".cbz/", ".cbr/", ".rar/"}

// immediateContainer returns relPath's archive prefix when it names a
// member of an archive file, or its parent directory otherwise.
func immediateContainer(relPath string) string {
	for _, sep := range archiveSeparators {
		if idx := strings.LastIndex(relPath, sep); idx >= 0 {
			return relPath[:idx+len(sep)-1]
		}
	}
	return path.Dir(relPath)
}

// filterMatch applies the per-group filters: negativeMatch, path,
// filterParent, and the minMatches threshold, rewriting group.Members in
// place to the surviving candidates. Element 0 of group is always the
// needle and is never dropped.
func filterMatch(params store.SearchParams, neg NegativeMatchChecker, group *store.Group) bool {
	needle := group.Needle()
	if needle == nil {
		return false
	}

	kept := make([]store.GroupMember, 0, len(group.Members))
	kept = append(kept, *needle)

	for _, m := range group.Hits() {
		if params.NegativeMatch && neg != nil && neg.IsNegativeMatch(needle.Record.MD5, m.Record.MD5) {
			continue
		}
		if params.Path != "" {
			hasPrefix := strings.HasPrefix(m.Record.RelPath, params.Path)
			if params.InPath && !hasPrefix {
				continue
			}
			if !params.InPath && hasPrefix {
				continue
			}
		}
		if params.FilterParent && immediateContainer(m.Record.RelPath) == immediateContainer(needle.Record.RelPath) {
			continue
		}
		kept = append(kept, m)
	}

	if len(kept)-1 < params.MinMatches {
		return false
	}

	group.Members = kept
	return true
}

// filterMatches applies the list-level post-processing: filterGroups
// (stable dedup of mirror groups), then mergeGroups or expandGroups
// (mutually exclusive), then a final sort by the relPath of each group's
// first element.
func filterMatches(params store.SearchParams, groups []store.Group) []store.Group {
	if params.FilterGroups {
		groups = dedupGroups(groups)
	}
	if params.MergeGroups {
		groups = mergeGroups(groups)
	} else if params.ExpandGroups {
		groups = expandGroups(groups)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groupKey(groups[i]) < groupKey(groups[j])
	})
	return groups
}

func groupKey(g store.Group) string {
	if needle := g.Needle(); needle != nil && needle.Record != nil {
		return needle.Record.RelPath
	}
	return ""
}

// dedupGroups drops groups whose sorted member paths it has already seen,
// collapsing mirror groups (A finds B, B finds A) into one. Stable.
func dedupGroups(groups []store.Group) []store.Group {
	seen := make(map[[32]byte]struct{}, len(groups))
	out := make([]store.Group, 0, len(groups))

	for _, g := range groups {
		paths := make([]string, len(g.Members))
		for i, m := range g.Members {
			if m.Record != nil {
				paths[i] = m.Record.RelPath
			}
		}
		sort.Strings(paths)
		key := sha256.Sum256([]byte(strings.Join(paths, "\x00")))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, g)
	}
	return out
}

// mergeGroups runs union-find over every member across all groups; each
// resulting equivalence class becomes one merged group.
func mergeGroups(groups []store.Group) []store.Group {
	parent := make(map[store.MediaID]store.MediaID)
	records := make(map[store.MediaID]*store.MediaRecord)

	var find func(id store.MediaID) store.MediaID
	find = func(id store.MediaID) store.MediaID {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	union := func(a, b store.MediaID) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, g := range groups {
		for _, m := range g.Members {
			if m.Record == nil {
				continue
			}
			id := m.Record.ID
			if _, ok := parent[id]; !ok {
				parent[id] = id
			}
			records[id] = m.Record
		}
		if len(g.Members) == 0 {
			continue
		}
		first := g.Members[0].Record.ID
		for _, m := range g.Members[1:] {
			union(first, m.Record.ID)
		}
	}

	byRoot := make(map[store.MediaID][]store.GroupMember)
	for _, g := range groups {
		for _, m := range g.Members {
			if m.Record == nil {
				continue
			}
			root := find(m.Record.ID)
			byRoot[root] = append(byRoot[root], m)
		}
	}

	out := make([]store.Group, 0, len(byRoot))
	for _, members := range byRoot {
		out = append(out, store.Group{Members: dedupMembers(members)})
	}
	return out
}

func dedupMembers(members []store.GroupMember) []store.GroupMember {
	seen := make(map[store.MediaID]struct{}, len(members))
	out := make([]store.GroupMember, 0, len(members))
	for _, m := range members {
		if m.Record == nil {
			continue
		}
		if _, ok := seen[m.Record.ID]; ok {
			continue
		}
		seen[m.Record.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// expandGroups splits each group of size k+1 into k groups of size 2
// (needle, candidate_i).
func expandGroups(groups []store.Group) []store.Group {
	out := make([]store.Group, 0, len(groups))
	for _, g := range groups {
		needle := g.Needle()
		if needle == nil {
			continue
		}
		for _, hit := range g.Hits() {
			out = append(out, store.Group{Members: []store.GroupMember{*needle, hit}})
		}
	}
	return out
}
