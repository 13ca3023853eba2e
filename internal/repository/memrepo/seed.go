package memrepo

import (
	"slices"
	"time"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/google/uuid"
)

// AddUser stores a user profile.
func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = u
}

// AddTrip stores a trip with the given free seats.
func (s *Store) AddTrip(t Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.trips[t.ID] = t
}

// AddReservation stores a reservation. DriverID is taken from the trip on read.
func (s *Store) AddReservation(r domain.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if r.Status == "" {
		r.Status = domain.ReservationPending
	}
	r.CreatedAt, r.UpdatedAt = now, now
	s.state.reservations[r.ID] = r
}

// Seats returns the free seats of a trip.
func (s *Store) Seats(tripID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.trips[tripID].AvailableSeats
}

// Account returns a copy of the account, or nil.
func (s *Store) Account(id uuid.UUID) *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.state.accounts[id]
	if !ok {
		return nil
	}
	return &a
}

// AccountFor returns the account of (user, currency), or nil.
func (s *Store) AccountFor(userID uuid.UUID, currency string) *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.state.accounts {
		if a.UserID == userID && a.Currency == currency {
			return &a
		}
	}
	return nil
}

// Transactions returns every movement in commit order.
func (s *Store) Transactions() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.transactions)
}

// Outbox returns every outbox draft in commit order.
func (s *Store) Outbox() []domain.OutboxDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.outbox)
}

// Events returns the stored webhook events.
func (s *Store) Events() []domain.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WebhookEvent, 0, len(s.state.events))
	for _, e := range s.state.events {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b domain.WebhookEvent) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Age moves the update timestamps of every payout, recharge and event back by d.
func (s *Store) Age(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.state.payouts {
		p.UpdatedAt = p.UpdatedAt.Add(-d)
		s.state.payouts[id] = p
	}
	for id, r := range s.state.recharges {
		r.UpdatedAt = r.UpdatedAt.Add(-d)
		s.state.recharges[id] = r
	}
	for id, e := range s.state.events {
		e.CreatedAt = e.CreatedAt.Add(-d)
		if e.ProcessedAt != nil {
			t := e.ProcessedAt.Add(-d)
			e.ProcessedAt = &t
		}
		s.state.events[id] = e
	}
}
