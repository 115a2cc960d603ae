package dedup

import "sort"

// Group is one connected component of duplicate links: every member refers to
// the same real-world program, directly or transitively.
type Group struct {
	ListingIDs []int64 `json:"listing_ids"`
}

type unionFind struct {
	parent map[int64]int64
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[int64]int64{}}
}

func (u *unionFind) find(id int64) int64 {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
		return id
	}
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	// Path compression.
	for u.parent[id] != root {
		u.parent[id], id = root, u.parent[id]
	}
	return root
}

func (u *unionFind) union(a, b int64) {
	rootA := u.find(a)
	rootB := u.find(b)
	if rootA != rootB {
		u.parent[rootB] = rootA
	}
}

// GroupLinks partitions duplicate links into connected groups. Transitivity
// is intentional: if A-B and B-C are linked, A, B, and C land in one group
// even when A-C alone would fall below the similarity threshold. Output is
// deterministic: members ascend within a group, groups order by smallest
// member.
func GroupLinks(links []Link) []Group {
	uf := newUnionFind()
	for _, link := range links {
		uf.union(link.OriginalID, link.DuplicateID)
	}

	members := map[int64][]int64{}
	for id := range uf.parent {
		root := uf.find(id)
		members[root] = append(members[root], id)
	}

	groups := make([]Group, 0, len(members))
	for _, ids := range members {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		groups = append(groups, Group{ListingIDs: ids})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].ListingIDs[0] < groups[j].ListingIDs[0]
	})
	return groups
}
