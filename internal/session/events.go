package session

import "sync"

const (
	maxEvents       = 1000
	subscriberQueue = 64
)

// Event is a notable occurrence in the race.
type Event struct {
	Seq         uint64         `json:"seq"`
	Step        uint64         `json:"step"`
	Elapsed     int            `json:"elapsed_seconds"`
	Category    string         `json:"category"` // "click", "purchase", "producers", "opponent", "won", ...
	Description string         `json:"description"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// emit records an event and fans it out to subscribers. Slow subscribers
// miss events rather than block the simulation. Caller holds s.mu.
func (s *Session) emit(category, desc string, meta map[string]any) {
	s.seq++
	e := Event{
		Seq:         s.seq,
		Step:        s.step,
		Elapsed:     s.clock.ElapsedSeconds(),
		Category:    category,
		Description: desc,
		Meta:        meta,
	}

	s.events = append(s.events, e)
	// Trim old events to prevent unbounded growth.
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
	for _, sub := range s.lossless {
		sub.push(e)
	}
}

// Events returns up to limit of the most recent events, oldest first.
func (s *Session) Events(limit int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if limit > 0 && len(s.events) > limit {
		start = len(s.events) - limit
	}
	out := make([]Event, len(s.events)-start)
	copy(out, s.events[start:])
	return out
}

// Subscribe registers a listener for new events. The channel is closed by
// Unsubscribe or Close.
func (s *Session) Subscribe() (int, <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, subscriberQueue)
	if s.closed {
		close(ch)
		return -1, ch
	}
	s.nextID++
	s.subs[s.nextID] = ch
	return s.nextID, ch
}

// SubscribeAll registers a listener that receives every event in order.
// Events queue without bound until read, so the reader must keep up or
// Unsubscribe. After Close the channel delivers the backlog, then closes.
func (s *Session) SubscribeAll() (int, <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := newQueuedSub()
	if s.closed {
		sub.finish()
		go sub.pump()
		return -1, sub.out
	}
	s.nextID++
	s.lossless[s.nextID] = sub
	go sub.pump()
	return s.nextID, sub.out
}

// Unsubscribe removes and closes the listener with the given id. Queued
// events not yet read by a SubscribeAll listener are discarded.
func (s *Session) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	if sub, ok := s.lossless[id]; ok {
		delete(s.lossless, id)
		sub.abort()
	}
}

// Close ends every subscription. Later subscribers get a closed channel.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	for id, sub := range s.lossless {
		delete(s.lossless, id)
		sub.finish()
	}
}

// queuedSub buffers events for one SubscribeAll listener and forwards
// them from its own goroutine, so emit never blocks on the reader.
type queuedSub struct {
	mu       sync.Mutex
	queue    []Event
	finished bool

	wake    chan struct{}
	aborted chan struct{}
	once    sync.Once
	out     chan Event
}

func newQueuedSub() *queuedSub {
	return &queuedSub{
		wake:    make(chan struct{}, 1),
		aborted: make(chan struct{}),
		out:     make(chan Event),
	}
}

func (q *queuedSub) push(e Event) {
	q.mu.Lock()
	q.queue = append(q.queue, e)
	q.mu.Unlock()
	q.signal()
}

// finish stops intake; the pump delivers what is queued, then closes out.
func (q *queuedSub) finish() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
	q.signal()
}

// abort drops the backlog and closes out as soon as the pump notices.
func (q *queuedSub) abort() {
	q.once.Do(func() { close(q.aborted) })
}

func (q *queuedSub) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queuedSub) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		batch := q.queue
		q.queue = nil
		finished := q.finished
		q.mu.Unlock()

		if len(batch) == 0 {
			if finished {
				return
			}
			select {
			case <-q.wake:
				continue
			case <-q.aborted:
				return
			}
		}

		for _, e := range batch {
			select {
			case q.out <- e:
			case <-q.aborted:
				return
			}
		}
	}
}
