package debounce

import "time"

// EdgeType names a confirmed transition.
type EdgeType string

const (
	EdgePressed  EdgeType = "PRESSED"
	EdgeReleased EdgeType = "RELEASED"
)

// Edge is a confirmed transition, ready to be published.
type Edge struct {
	Timestamp time.Time
	Type      EdgeType
	State     State // machine state after the edge
	Indicator bool  // indicator level actually driven after the edge
}

// EdgeCounts tracks the number of each edge since startup.
type EdgeCounts struct {
	Pressed  int
	Released int
}

// Add counts e.
func (c *EdgeCounts) Add(e Edge) {
	switch e.Type {
	case EdgePressed:
		c.Pressed++
	case EdgeReleased:
		c.Released++
	}
}

// PollEdges drains both edge flags and returns the pending edges stamped with
// now, press first.
func (m *Machine) PollEdges(now time.Time) []Edge {
	var edges []Edge
	if m.PollPressEdge() {
		edges = append(edges, Edge{Timestamp: now, Type: EdgePressed})
	}
	if m.PollReleaseEdge() {
		edges = append(edges, Edge{Timestamp: now, Type: EdgeReleased})
	}
	for i := range edges {
		edges[i].State = m.state
		edges[i].Indicator = m.lit
	}
	return edges
}
