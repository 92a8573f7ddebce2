package prefetch

// dedupSet remembers every identifier ever enqueued. Entries are never evicted:
// warming the same URL twice in one session has no benefit.
type dedupSet struct {
	seen map[string]struct{}
}

func newDedupSet() *dedupSet {
	return &dedupSet{seen: make(map[string]struct{})}
}

// markIfNew stores id and returns true if it was not present before.
func (d *dedupSet) markIfNew(id string) bool {
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

func (d *dedupSet) has(id string) bool {
	_, ok := d.seen[id]
	return ok
}

// workQueue is an append-only list of identifiers with a read cursor.
// Items before the cursor are claimed, items at or after it are pending.
type workQueue struct {
	items  []string
	cursor int
}

func newWorkQueue() *workQueue {
	return &workQueue{}
}

func (q *workQueue) push(id string) {
	q.items = append(q.items, id)
}

// claim returns the item at the cursor and advances past it.
func (q *workQueue) claim() (string, bool) {
	if q.cursor >= len(q.items) {
		return "", false
	}
	id := q.items[q.cursor]
	q.cursor++
	return id, true
}

func (q *workQueue) pending() int {
	return len(q.items) - q.cursor
}

func (q *workQueue) claimed() int {
	return q.cursor
}

func (q *workQueue) len() int {
	return len(q.items)
}
