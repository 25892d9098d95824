package index

import "tagify/internal/metadata"

// EventKind says what happened to a track record.
type EventKind int

const (
	Inserted EventKind = iota
	Updated
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "deleted"
	}
}

// Event is a change notification. Track holds the record after the change,
// or the removed record for Deleted.
type Event struct {
	Kind  EventKind
	Track metadata.Track
}

const subscriberBuffer = 64

// Subscribe returns a channel of change notifications and a function that
// ends the subscription. Slow subscribers miss events rather than block
// writers.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

func (s *Store) publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			s.log.Debug("Dropped %s event for track %d: subscriber is behind", e.Kind, e.Track.ID)
		}
	}
}
