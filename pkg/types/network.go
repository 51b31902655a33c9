package types

// NodeType tags a node as a leaf or as a cluster that can be drilled into.
type NodeType string

const (
	NodeLeaf    NodeType = "leaf"
	NodeCluster NodeType = "cluster"
)

// Metadata identifies a network and its place in the drill-down hierarchy.
type Metadata struct {
	// ID is the unique registry key of the network.
	ID string `json:"id"`

	// ParentNetwork is the id of the network containing the cluster node
	// that points at this one. Empty for the root.
	ParentNetwork string `json:"parentNetwork,omitempty"`

	// UpdateInterval is the preferred tick interval in milliseconds.
	UpdateInterval int `json:"updateInterval,omitempty"`

	// RetentionPeriod is the advertised history retention in seconds.
	RetentionPeriod int `json:"retentionPeriod,omitempty"`
}

// Node is one vertex of a network diagram.
type Node struct {
	ID           string       `json:"id"`
	Type         NodeType     `json:"type"`
	X            float64      `json:"x"`
	Y            float64      `json:"y"`
	ChildNetwork string       `json:"childNetwork,omitempty"`
	Metrics      *MetricState `json:"metrics,omitempty"`
}

// Link is a directed edge between two nodes of the same network.
type Link struct {
	Source  string       `json:"source"`
	Target  string       `json:"target"`
	Metrics *MetricState `json:"metrics,omitempty"`
}

// ID returns the composite link identifier "source->target".
func (l *Link) ID() string { return LinkID(l.Source, l.Target) }

// LinkID builds the composite identifier used to key links in diffs and stats.
func LinkID(source, target string) string { return source + "->" + target }

// Network is one level of the hierarchy. Cluster nodes reference child
// networks by id through Node.ChildNetwork.
type Network struct {
	Metadata Metadata `json:"metadata"`
	Nodes    []*Node  `json:"nodes"`
	Links    []*Link  `json:"links"`
}

// Children returns the ids of the child networks referenced by cluster
// nodes, in node order, without duplicates.
func (n *Network) Children() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, node := range n.Nodes {
		if node.ChildNetwork == "" {
			continue
		}
		if _, ok := seen[node.ChildNetwork]; ok {
			continue
		}
		seen[node.ChildNetwork] = struct{}{}
		out = append(out, node.ChildNetwork)
	}
	return out
}

// Clone returns a deep copy of n. Mutating the copy never affects n.
func (n *Network) Clone() *Network {
	if n == nil {
		return nil
	}
	out := &Network{
		Metadata: n.Metadata,
		Nodes:    make([]*Node, 0, len(n.Nodes)),
		Links:    make([]*Link, 0, len(n.Links)),
	}
	for _, node := range n.Nodes {
		cp := *node
		cp.Metrics = node.Metrics.Clone()
		out.Nodes = append(out.Nodes, &cp)
	}
	for _, l := range n.Links {
		cp := *l
		cp.Metrics = l.Metrics.Clone()
		out.Links = append(out.Links, &cp)
	}
	return out
}
