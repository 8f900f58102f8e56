package memory

import (
	"context"
	"sort"

	"escrowhub/pkg/outbox"
)

func (s *Store) find(id string) *outbox.Event {
	for _, e := range s.outbox {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *Store) GetPendingEvents(_ context.Context, limit int) ([]*outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []*outbox.Event
	for _, e := range s.outbox {
		if e.Due(now) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkAsSent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(eventID)
	if e == nil {
		return outbox.ErrEventNotFound
	}
	e.Status = outbox.StatusSent
	e.NextRetryAt = nil
	e.UpdatedAt = s.now()
	return nil
}

func (s *Store) MarkAsFailed(_ context.Context, eventID string, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(eventID)
	if e == nil {
		return outbox.ErrEventNotFound
	}
	now := s.now()
	e.Status, e.RetryCount, e.NextRetryAt = outbox.NextAttempt(e.RetryCount, maxRetries, now)
	e.UpdatedAt = now
	return nil
}

func (s *Store) GetEventByID(_ context.Context, eventID string) (*outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(eventID)
	if e == nil {
		return nil, outbox.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayEvent puts a record back in the pending queue with a fresh retry
// budget.
func (s *Store) ReplayEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(eventID)
	if e == nil {
		return outbox.ErrEventNotFound
	}
	e.Status = outbox.StatusPending
	e.RetryCount = 0
	e.NextRetryAt = nil
	e.UpdatedAt = s.now()
	return nil
}

func (s *Store) GetFailedEvents(_ context.Context, limit int) ([]*outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*outbox.Event
	for _, e := range s.outbox {
		if e.Status == outbox.StatusFailed {
			cp := *e
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
