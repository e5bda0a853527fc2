package comment

import "sort"

// BuildTree arranges a flat snapshot into a forest. Roots are ordered newest
// first; replies keep input order. A row whose parent is not part of the
// snapshot becomes a root instead of being dropped.
//
// Rows are indexed into a flat slice and children are grouped by index in a
// single pass, so malformed parent chains cannot loop. When the same id shows
// up twice, the first row wins.
func BuildTree(rows []Row) []*Comment {
	nodes := make([]*Comment, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, r := range rows {
		if _, dup := index[r.ID]; dup {
			continue
		}
		index[r.ID] = len(nodes)
		nodes = append(nodes, newNode(r))
	}

	children := make([][]int, len(nodes))
	roots := make([]int, 0, len(nodes))
	for i, n := range nodes {
		if n.ParentID != nil {
			if p, ok := index[*n.ParentID]; ok && p != i {
				children[p] = append(children[p], i)
				continue
			}
		}
		roots = append(roots, i)
	}

	attached := make([]bool, len(nodes))
	var attach func(i int)
	attach = func(i int) {
		attached[i] = true
		for _, c := range children[i] {
			if attached[c] {
				continue
			}
			nodes[i].Replies = append(nodes[i].Replies, nodes[c])
			attach(c)
		}
	}
	for _, i := range roots {
		attach(i)
	}
	// Rows caught in a parent cycle are unreachable from any root. Promote the
	// first one seen so the rest of the cycle hangs below it.
	for i := range nodes {
		if !attached[i] {
			roots = append(roots, i)
			attach(i)
		}
	}

	forest := make([]*Comment, len(roots))
	for k, i := range roots {
		forest[k] = nodes[i]
	}
	sort.SliceStable(forest, func(a, b int) bool {
		return forest[a].Timestamp.After(forest[b].Timestamp)
	})
	return forest
}

// Flatten walks the forest depth first and returns the flat rows it was
// built from.
func Flatten(forest []*Comment) []Row {
	var out []Row
	var walk func([]*Comment)
	walk = func(nodes []*Comment) {
		for _, n := range nodes {
			out = append(out, n.Row())
			walk(n.Replies)
		}
	}
	walk(forest)
	return out
}

// Find returns the node with the given id, or nil.
func Find(forest []*Comment, id string) *Comment {
	for _, n := range forest {
		if n.ID == id {
			return n
		}
		if found := Find(n.Replies, id); found != nil {
			return found
		}
	}
	return nil
}

// Count returns the number of nodes in the forest.
func Count(forest []*Comment) int {
	total := 0
	for _, n := range forest {
		total += 1 + Count(n.Replies)
	}
	return total
}
