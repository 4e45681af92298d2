package session

import "sync/atomic"

// palette is the fixed 8-entry colour set assigned to joining users,
// round-robin (spec.md §6). Carried over from the teacher's client.go
// colour list, which picked one at random per connection; colour
// assignment here is process-wide monotonic instead, so it stays
// deterministic and collision-free under concurrent joins.
var palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FFEAA7", "#DDA0DD", "#98D8C8", "#FFA07A",
}

var colorIndex atomic.Uint64

// nextColor returns the next colour in round-robin order. It is safe for
// concurrent use across every document: spec.md §5 calls out the
// colour-index counter as the one piece of state shared across documents,
// advanced without coordination.
func nextColor() string {
	i := colorIndex.Add(1) - 1
	return palette[i%uint64(len(palette))]
}
