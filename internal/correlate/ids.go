package correlate

import "fmt"

// IDs issues message ids that are unique within one run. Ids taken from the
// protocol are kept when unused; repeats get a numeric suffix.
type IDs struct {
	seen map[string]int
	n    int
}

// Next returns the id for the next message.
func (g *IDs) Next(raw string) string {
	if g.seen == nil {
		g.seen = map[string]int{}
	}
	g.n++
	if raw == "" {
		raw = fmt.Sprintf("msg-%d", g.n)
	}
	count := g.seen[raw]
	g.seen[raw] = count + 1
	if count == 0 {
		return raw
	}
	id := fmt.Sprintf("%s-%d", raw, count)
	for g.seen[id] > 0 {
		count++
		id = fmt.Sprintf("%s-%d", raw, count)
	}
	g.seen[id] = 1
	return id
}

// Reset restarts numbering.
func (g *IDs) Reset() {
	g.seen = nil
	g.n = 0
}
