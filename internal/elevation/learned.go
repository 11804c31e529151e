package elevation

import (
	"container/list"
	"strings"
	"sync"

	"github.com/no-wing/no-wing/internal/core"
)

// LearnedPatterns is a bounded LRU of elevation methods that previously
// succeeded for an operation shape. It is a display-only hint: nothing
// in the authorization path consults it, so stale entries can never
// widen access.
type LearnedPatterns struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	entries  map[string]*list.Element
}

type learnedEntry struct {
	shape   string
	methods []core.ElevationMethod // most-recent-first
}

// NewLearnedPatterns creates a hint cache holding at most capacity
// operation shapes.
func NewLearnedPatterns(capacity int) *LearnedPatterns {
	if capacity <= 0 {
		capacity = 128
	}
	return &LearnedPatterns{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Record notes that a method succeeded for the operation's shape.
func (p *LearnedPatterns) Record(op core.OperationContext, method core.ElevationMethod) {
	p.mu.Lock()
	defer p.mu.Unlock()

	shape := OperationShape(op)
	if elem, ok := p.entries[shape]; ok {
		entry := elem.Value.(*learnedEntry)
		entry.methods = prependUnique(entry.methods, method)
		p.order.MoveToFront(elem)
		return
	}

	elem := p.order.PushFront(&learnedEntry{
		shape:   shape,
		methods: []core.ElevationMethod{method},
	})
	p.entries[shape] = elem

	if p.order.Len() > p.capacity {
		oldest := p.order.Back()
		p.order.Remove(oldest)
		delete(p.entries, oldest.Value.(*learnedEntry).shape)
	}
}

// Methods returns the methods previously successful for the operation's
// shape, most-recent-first. Returns nil for unseen shapes.
func (p *LearnedPatterns) Methods(op core.OperationContext) []core.ElevationMethod {
	p.mu.Lock()
	defer p.mu.Unlock()

	elem, ok := p.entries[OperationShape(op)]
	if !ok {
		return nil
	}
	entry := elem.Value.(*learnedEntry)
	out := make([]core.ElevationMethod, len(entry.methods))
	copy(out, entry.methods)
	return out
}

func prependUnique(methods []core.ElevationMethod, m core.ElevationMethod) []core.ElevationMethod {
	out := []core.ElevationMethod{m}
	for _, existing := range methods {
		if existing != m {
			out = append(out, existing)
		}
	}
	return out
}

// OperationShape normalizes an operation to service + verb class +
// resource-pattern shape, so "s3:PutObject on bucket/a" and
// "s3:PutObject on bucket/b" share one learned entry.
func OperationShape(op core.OperationContext) string {
	return op.Service + "|" + verbClass(op.Action) + "|" + resourceShape(op.Resource)
}

func verbClass(action string) string {
	verb := action
	if i := strings.IndexByte(action, ':'); i >= 0 {
		verb = action[i+1:]
	}
	switch {
	case hasAnyPrefix(verb, "Get", "List", "Describe", "Lookup", "Head"):
		return "read"
	case hasAnyPrefix(verb, "Delete", "Terminate", "Remove"):
		return "delete"
	case hasAnyPrefix(verb, "Create", "Put", "Update", "Modify", "Attach", "Detach"):
		return "write"
	default:
		return "other"
	}
}

// resourceShape keeps the resource type prefix and collapses everything
// after the first path separator.
func resourceShape(resource string) string {
	if i := strings.IndexByte(resource, '/'); i >= 0 {
		return resource[:i] + "/*"
	}
	return resource
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
