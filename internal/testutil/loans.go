package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"loandesk/internal/loan"
)

// Loans is an in-memory loan.Store with the same conditional-write
// behaviour as the Postgres store.
type Loans struct {
	mu    sync.Mutex
	loans map[uuid.UUID]loan.Loan
	order []uuid.UUID

	// SaveErr, when set, is returned by the next Save and then cleared.
	SaveErr error
}

// NewLoans creates an empty store.
func NewLoans() *Loans {
	return &Loans{loans: make(map[uuid.UUID]loan.Loan)}
}

// Put stores l as-is, bypassing version checks. Version 0 becomes 1.
func (s *Loans) Put(l loan.Loan) *loan.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Version == 0 {
		l.Version = 1
	}
	if _, ok := s.loans[l.ID]; !ok {
		s.order = append(s.order, l.ID)
	}
	s.loans[l.ID] = l
	return clone(l)
}

func (s *Loans) Save(_ context.Context, l *loan.Loan) (*loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.SaveErr; err != nil {
		s.SaveErr = nil
		return nil, err
	}

	next := *l
	if l.Version == 0 {
		if l.Status.Open() {
			for _, other := range s.loans {
				if other.BookID == l.BookID && other.Status.Open() {
					return nil, loan.ErrBookUnavailable
				}
			}
		}
		next.Version = 1
		s.order = append(s.order, next.ID)
		s.loans[next.ID] = next
		return clone(next), nil
	}

	current, ok := s.loans[l.ID]
	if !ok {
		return nil, loan.ErrLoanNotFound
	}
	if current.Version != l.Version {
		return nil, loan.ErrConcurrencyConflict
	}
	next.Version = current.Version + 1
	s.loans[next.ID] = next
	return clone(next), nil
}

func (s *Loans) FindByID(_ context.Context, id uuid.UUID) (*loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[id]
	if !ok {
		return nil, loan.ErrLoanNotFound
	}
	return clone(l), nil
}

func (s *Loans) DeleteByID(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loans, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Loans) FindAll(_ context.Context) ([]*loan.Loan, error) {
	return s.filter(func(loan.Loan) bool { return true }), nil
}

func (s *Loans) FindByBorrowerID(_ context.Context, borrowerID uuid.UUID) ([]*loan.Loan, error) {
	return s.filter(func(l loan.Loan) bool { return l.BorrowerID == borrowerID }), nil
}

func (s *Loans) FindByStatus(_ context.Context, status loan.Status) ([]*loan.Loan, error) {
	return s.filter(func(l loan.Loan) bool { return l.Status == status }), nil
}

func (s *Loans) CountByBorrowerIDAndStatus(_ context.Context, borrowerID uuid.UUID, status loan.Status) (int, error) {
	return len(s.filter(func(l loan.Loan) bool { return l.BorrowerID == borrowerID && l.Status == status })), nil
}

func (s *Loans) FindByBorrowerIDAndStatusIn(_ context.Context, borrowerID uuid.UUID, statuses []loan.Status) ([]*loan.Loan, error) {
	return s.filter(func(l loan.Loan) bool {
		if l.BorrowerID != borrowerID {
			return false
		}
		for _, st := range statuses {
			if l.Status == st {
				return true
			}
		}
		return false
	}), nil
}

func (s *Loans) CountByBookIDAndStatus(_ context.Context, bookID uuid.UUID, status loan.Status) (int, error) {
	return len(s.filter(func(l loan.Loan) bool { return l.BookID == bookID && l.Status == status })), nil
}

func (s *Loans) MarkOverdue(_ context.Context, id uuid.UUID, today time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[id]
	if !ok || !l.Overdue(today) {
		return false, nil
	}
	l.Status = loan.StatusOverdue
	l.Version++
	s.loans[id] = l
	return true, nil
}

func (s *Loans) filter(keep func(loan.Loan) bool) []*loan.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*loan.Loan
	for _, id := range s.order {
		if l := s.loans[id]; keep(l) {
			out = append(out, clone(l))
		}
	}
	return out
}

func clone(l loan.Loan) *loan.Loan {
	if l.ReturnDate != nil {
		d := *l.ReturnDate
		l.ReturnDate = &d
	}
	return &l
}
