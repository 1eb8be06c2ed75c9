package timeline

import "github.com/spec-kit/helpdesk-engine/internal/domain"

// Thread is one node of the activity forest: an entry plus its replies in
// insertion order.
type Thread struct {
	Entry   domain.TimelineEntry
	Replies []*Thread
}

// BuildThreads folds the flat entry list into a forest. An entry without a
// reply_to is a root; so is an entry whose parent was tombstoned. Children
// attach under their parent in original chronological order. Tombstoned
// entries themselves are not rendered.
func BuildThreads(entries []domain.TimelineEntry) []*Thread {
	nodes := make(map[int]*Thread, len(entries))
	roots := make([]*Thread, 0, len(entries))
	for _, entry := range entries {
		if entry.Deleted {
			continue
		}
		node := &Thread{Entry: entry}
		nodes[entry.Index] = node
		if entry.ReplyTo != nil {
			if parent, ok := nodes[*entry.ReplyTo]; ok {
				parent.Replies = append(parent.Replies, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}

// Walk visits the forest depth-first, oldest root first, preserving
// insertion order at each level. depth is 0 for roots.
func Walk(threads []*Thread, fn func(node *Thread, depth int)) {
	var visit func(node *Thread, depth int)
	visit = func(node *Thread, depth int) {
		fn(node, depth)
		for _, reply := range node.Replies {
			visit(reply, depth+1)
		}
	}
	for _, root := range threads {
		visit(root, 0)
	}
}
