package example

import "github.com/arenapool/smallobj"

// Graph is a small adjacency-list graph whose nodes and edges are carved
// out of the backing pool. graphNode and graphEdge are both two words
// long, so they share one size class and one FixedAllocator.
type Graph struct {
	pool  *smallobj.SmallObjAllocator
	nodes []*graphNode
}

type graphNode struct {
	id    int
	edges *graphEdge
}

type graphEdge struct {
	to   *graphNode
	next *graphEdge
}

// NewGraph returns an empty graph backed by a new SmallObjAllocator.
func NewGraph(chunkSize uint32) *Graph {
	return &Graph{
		pool: smallobj.New(chunkSize, chunkSize, smallobj.VariantOrderedMap, nil),
	}
}

// AddNode creates a new node and returns its id (its index into Graph's
// node table).
func (g *Graph) AddNode() (int, error) {
	n, err := smallobj.AllocateT[graphNode](g.pool)
	if err != nil {
		return 0, err
	}
	n.id = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return n.id, nil
}

// AddEdge links from -> to.
func (g *Graph) AddEdge(from, to int) error {
	e, err := smallobj.AllocateT[graphEdge](g.pool)
	if err != nil {
		return err
	}
	e.to = g.nodes[to]
	e.next = g.nodes[from].edges
	g.nodes[from].edges = e

	return nil
}

// Neighbors returns the ids reachable from node directly.
func (g *Graph) Neighbors(node int) []int {
	var out []int
	for e := g.nodes[node].edges; e != nil; e = e.next {
		out = append(out, e.to.id)
	}
	return out
}

// Close releases every node and edge in the graph.
func (g *Graph) Close() error {
	for _, n := range g.nodes {
		for e := n.edges; e != nil; {
			next := e.next
			if err := smallobj.DeallocateT(g.pool, e); err != nil {
				return err
			}
			e = next
		}
		n.edges = nil
	}
	for _, n := range g.nodes {
		if err := smallobj.DeallocateT(g.pool, n); err != nil {
			return err
		}
	}
	g.nodes = nil
	return g.pool.Release()
}
