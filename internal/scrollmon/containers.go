// Package scrollmon discovers scrollable containers in a page and turns their
// scroll events into distance-threshold capture triggers.
package scrollmon

// ContainerHandle identifies a scroll container on the page. The window
// scroller uses Window; elements use the id assigned by the page driver.
type ContainerHandle string

// Window is the document-level scroller.
const Window ContainerHandle = "window"

// Node is a driver-neutral snapshot of one element's scroll geometry.
type Node struct {
	ID           string  `json:"id"`
	Tag          string  `json:"tag,omitempty"`
	ScrollWidth  float64 `json:"scrollWidth"`
	ScrollHeight float64 `json:"scrollHeight"`
	ClientWidth  float64 `json:"clientWidth"`
	ClientHeight float64 `json:"clientHeight"`
	OverflowX    string  `json:"overflowX"`
	OverflowY    string  `json:"overflowY"`
	Children     []*Node `json:"children,omitempty"`
}

// Scrollable reports whether the node overflows on an axis whose overflow
// style allows scrolling.
func (n *Node) Scrollable() bool {
	vertical := n.ScrollHeight > n.ClientHeight && scrollStyle(n.OverflowY)
	horizontal := n.ScrollWidth > n.ClientWidth && scrollStyle(n.OverflowX)
	return vertical || horizontal
}

func scrollStyle(v string) bool {
	return v == "auto" || v == "scroll"
}

// FindScrollableContainers walks the tree once, pre-order, and returns the
// window scroller followed by every scrollable element.
func FindScrollableContainers(root *Node) []ContainerHandle {
	out := []ContainerHandle{Window}
	if root == nil {
		return out
	}
	seen := map[string]bool{}
	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		if n.ID != "" && !seen[n.ID] && n.Scrollable() {
			seen[n.ID] = true
			out = append(out, ContainerHandle(n.ID))
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return out
}

// FlatNode is the wire shape produced by page scripts: a flat list with
// parent links, rebuilt into a tree by BuildTree.
type FlatNode struct {
	Node
	Parent string `json:"parent,omitempty"`
}

// BuildTree turns a flat list into a tree. Nodes without a known parent are
// attached to a synthetic root.
func BuildTree(flat []FlatNode) *Node {
	root := &Node{ID: ""}
	byID := make(map[string]*Node, len(flat))
	nodes := make([]*Node, len(flat))
	for i := range flat {
		n := flat[i].Node
		n.Children = nil
		nodes[i] = &n
		if n.ID != "" {
			byID[n.ID] = nodes[i]
		}
	}
	for i, f := range flat {
		parent, ok := byID[f.Parent]
		if !ok || parent == nodes[i] {
			parent = root
		}
		parent.Children = append(parent.Children, nodes[i])
	}
	return root
}
