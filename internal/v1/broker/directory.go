package broker

// The directory is a trie keyed by name byte, one child slot per possible
// value. Room names are byte-transparent, so the fan-out covers the full
// byte range; shared prefixes share nodes.
const trieWidth = 256

type trieNode struct {
	children [trieWidth]*trieNode
	room     *Room
}

func (n *trieNode) hasChildren() bool {
	for _, c := range n.children {
		if c != nil {
			return true
		}
	}
	return false
}

// directory maps room names to rooms. It has no locking of its own; the
// owning Broker's mutex guards every call.
type directory struct {
	root  *trieNode
	count int
}

func newDirectory() *directory {
	return &directory{root: &trieNode{}}
}

func (d *directory) lookup(name string) *Room {
	n := d.root
	for i := 0; i < len(name); i++ {
		n = n.children[name[i]]
		if n == nil {
			return nil
		}
	}
	return n.room
}

func (d *directory) insert(name string, r *Room) {
	n := d.root
	for i := 0; i < len(name); i++ {
		b := name[i]
		if n.children[b] == nil {
			n.children[b] = &trieNode{}
		}
		n = n.children[b]
	}
	if n.room == nil {
		d.count++
	}
	n.room = r
}

// remove unmaps name and prunes now-empty nodes up to the first ancestor
// that still carries a room or branches elsewhere.
func (d *directory) remove(name string) {
	path := make([]*trieNode, len(name)+1)
	n := d.root
	path[0] = n
	for i := 0; i < len(name); i++ {
		n = n.children[name[i]]
		if n == nil {
			return
		}
		path[i+1] = n
	}
	if n.room == nil {
		return
	}
	n.room = nil
	d.count--

	for i := len(name); i > 0; i-- {
		node := path[i]
		if node.room != nil || node.hasChildren() {
			break
		}
		path[i-1].children[name[i-1]] = nil
	}
}

func (d *directory) len() int {
	return d.count
}

// each visits every registered room. Order is byte-lexicographic by name.
func (d *directory) each(fn func(r *Room)) {
	d.root.each(fn)
}

func (n *trieNode) each(fn func(r *Room)) {
	if n == nil {
		return
	}
	if n.room != nil {
		fn(n.room)
	}
	for _, c := range n.children {
		if c != nil {
			c.each(fn)
		}
	}
}
