package capture

import "github.com/user/moodcam/internal/store"

const feedBuffer = 16

// Subscribe returns a channel that receives each capture appended to the
// session, plus a cancel function. The channel is closed when the session
// stops, is deleted, or the subscriber cancels. Slow subscribers drop
// events rather than stalling the capture path.
func (s *Service) Subscribe(sessionID string) (<-chan store.Capture, func()) {
	ch := make(chan store.Capture, feedBuffer)

	s.mu.Lock()
	subs, ok := s.feeds[sessionID]
	if !ok {
		subs = make(map[chan store.Capture]struct{})
		s.feeds[sessionID] = subs
	}
	subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.feeds[sessionID]; ok {
			if _, live := subs[ch]; live {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(s.feeds, sessionID)
				}
			}
		}
	}
	return ch, cancel
}

func (s *Service) publish(sessionID string, c store.Capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.feeds[sessionID] {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *Service) closeFeeds(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.feeds[sessionID] {
		close(ch)
	}
	delete(s.feeds, sessionID)
}
