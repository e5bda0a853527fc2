package comment

// CascadeIDs returns target followed by every transitive reply of target in
// rows. The target is always included, even when it is not in rows, so the
// result can be handed to a batched delete as is.
func CascadeIDs(target string, rows []Row) []string {
	children := make(map[string][]string, len(rows))
	for _, r := range rows {
		if r.IsRoot() || *r.ParentID == r.ID {
			continue
		}
		children[*r.ParentID] = append(children[*r.ParentID], r.ID)
	}

	visited := make(map[string]struct{}, len(rows))
	var out []string
	var walk func(id string)
	walk = func(id string) {
		if _, seen := visited[id]; seen {
			return
		}
		visited[id] = struct{}{}
		out = append(out, id)
		for _, c := range children[id] {
			walk(c)
		}
	}
	walk(target)
	return out
}

// Prune returns a copy of forest without the nodes listed in ids. Children of
// a removed node go with it. The input forest is left untouched.
func Prune(forest []*Comment, ids []string) []*Comment {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	return prune(forest, drop)
}

func prune(nodes []*Comment, drop map[string]struct{}) []*Comment {
	out := make([]*Comment, 0, len(nodes))
	for _, n := range nodes {
		if _, gone := drop[n.ID]; gone {
			continue
		}
		cp := *n
		cp.Replies = prune(n.Replies, drop)
		out = append(out, &cp)
	}
	return out
}
