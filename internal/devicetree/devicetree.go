// Package devicetree models the four device-tree queries the core
// consumes: find node by path, get property, get BAR, get BAR size, plus
// CountDevType used to size PLS and the spin table. Parsing a real FDT
// blob is out of scope; this package is the abstract interface external
// code implements.
package devicetree

// Node is an opaque device-tree node handle.
type Node interface {
	// Property returns the raw property value, or "" if absent.
	Property(key string) string
	// Name returns the node's name (last path component).
	Name() string
}

// Tree is the external collaborator the core consumes.
type Tree interface {
	// FindNode looks up a node by absolute path, e.g. "/memory".
	FindNode(path string) Node
	// CountDevType counts nodes whose "device_type" property equals t,
	// e.g. CountDevType("cpu") to size the PE count.
	CountDevType(t string) int
	// BAR returns the base address of a node's first reg/ranges entry.
	BAR(n Node) uintptr
	// BARSize returns the size of a node's first reg/ranges entry.
	BARSize(n Node) uint64
}

// Static is a fixed, in-memory Tree used by tests and non-hardware boots.
type Static struct {
	Nodes    map[string]*StaticNode
	CPUCount int
}

// StaticNode is a trivial Node implementation.
type StaticNode struct {
	NodeName   string
	Properties map[string]string
	BARAddr    uintptr
	BARLen     uint64
}

func (n *StaticNode) Property(key string) string { return n.Properties[key] }
func (n *StaticNode) Name() string               { return n.NodeName }

func (s *Static) FindNode(path string) Node {
	n, ok := s.Nodes[path]
	if !ok {
		return nil
	}
	return n
}

func (s *Static) CountDevType(t string) int {
	if t == "cpu" {
		return s.CPUCount
	}
	count := 0
	for _, n := range s.Nodes {
		if n.Properties["device_type"] == t {
			count++
		}
	}
	return count
}

func (s *Static) BAR(n Node) uintptr {
	sn, ok := n.(*StaticNode)
	if !ok {
		return 0
	}
	return sn.BARAddr
}

func (s *Static) BARSize(n Node) uint64 {
	sn, ok := n.(*StaticNode)
	if !ok {
		return 0
	}
	return sn.BARLen
}

// NewStaticWithMemory builds a Static tree with a "/memory" node and a
// given cpu count, the two queries a non-hardware boot needs explicitly.
func NewStaticWithMemory(ramStart uintptr, ramSize uint64, cpuCount int) *Static {
	return &Static{
		CPUCount: cpuCount,
		Nodes: map[string]*StaticNode{
			"/memory": {
				NodeName:   "memory",
				Properties: map[string]string{"device_type": "memory"},
				BARAddr:    ramStart,
				BARLen:     ramSize,
			},
		},
	}
}
