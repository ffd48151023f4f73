package timercore

import "sort"

// timerBucket holds every timer due at one millisecond-truncated instant, in
// insertion order. Buckets are created when the first timer for an instant
// arrives and dropped when the list empties; a live bucket always has at
// least one timer.
type timerBucket struct {
	at         Time // millisecond-truncated deadline
	head, tail *EventLoopTimer
}

func (b *timerBucket) append(t *EventLoopTimer) {
	t.prev = b.tail
	t.next = nil
	if b.tail != nil {
		b.tail.next = t
	} else {
		b.head = t
	}
	b.tail = t
}

func (b *timerBucket) unlink(t *EventLoopTimer) {
	if t.prev != nil {
		t.prev.next = t.next
	} else if b.head == t {
		b.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else if b.tail == t {
		b.tail = t.prev
	}
	t.prev = nil
	t.next = nil
}

func (b *timerBucket) empty() bool { return b.head == nil }

// timerStore maintains the set of active timers sorted by fire time at
// millisecond granularity: an ordered array of buckets with binary-search
// insertion. insert/remove are O(log B + B) in the number of distinct
// instants (dominated by array shifting), peek is O(1). The flat array keeps
// constants small and the hot first bucket cache-resident; a pairing heap
// would win asymptotically but loses on locality at realistic populations.
//
// The store holds weak references only: ownership of timers stays with the
// concrete owner objects. All methods require the scheduler mutex.
type timerStore struct {
	buckets []*timerBucket
}

// search returns the index of the bucket for instant at, or the insertion
// index and false.
func (s *timerStore) search(at Time) (int, bool) {
	i := sort.Search(len(s.buckets), func(i int) bool {
		return s.buckets[i].at.Compare(at) >= 0
	})
	if i < len(s.buckets) && s.buckets[i].at == at {
		return i, true
	}
	return i, false
}

// insert appends t to the bucket for its truncated deadline, creating the
// bucket at the correct position if absent.
func (s *timerStore) insert(t *EventLoopTimer) {
	at := t.when.TruncMillis()
	i, ok := s.search(at)
	if !ok {
		s.buckets = append(s.buckets, nil)
		copy(s.buckets[i+1:], s.buckets[i:])
		s.buckets[i] = &timerBucket{at: at}
	}
	s.buckets[i].append(t)
}

// remove unlinks t from its bucket, dropping the bucket if it empties.
// A missing bucket is a no-op.
func (s *timerStore) remove(t *EventLoopTimer) {
	i, ok := s.search(t.when.TruncMillis())
	if !ok {
		return
	}
	b := s.buckets[i]
	b.unlink(t)
	if b.empty() {
		s.dropBucket(i)
	}
}

// peek returns the head of the earliest bucket, or nil.
func (s *timerStore) peek() *EventLoopTimer {
	if len(s.buckets) == 0 {
		return nil
	}
	return s.buckets[0].head
}

// popMin unlinks and returns the head of the earliest bucket, dropping the
// bucket if it empties. Returns nil when the store is empty.
func (s *timerStore) popMin() *EventLoopTimer {
	if len(s.buckets) == 0 {
		return nil
	}
	b := s.buckets[0]
	t := b.head
	b.unlink(t)
	if b.empty() {
		s.dropBucket(0)
	}
	return t
}

func (s *timerStore) dropBucket(i int) {
	copy(s.buckets[i:], s.buckets[i+1:])
	s.buckets[len(s.buckets)-1] = nil
	s.buckets = s.buckets[:len(s.buckets)-1]
}

func (s *timerStore) empty() bool { return len(s.buckets) == 0 }
