// Package services – SyncService
//
// This file implements the solve-record reconciler behind the /sync
// endpoints. A client presents the set of solve identifiers (startTime
// values) it holds locally; the service partitions the server's stored
// solves against that set to decide what to send back and reports ids the
// server has never seen so the client can re-push them. Pushes are
// validated record by record before any row is written, and deletions are
// idempotent.
//
// Every operation takes the resolved user id explicitly and scopes all
// repository access by it; a client-supplied owner field is never trusted.
package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-loopover-backend/internal/domain"
)

// SolveRepo defines the repository contract required by SyncService.
// Implementations are responsible for persistence of solve records.
type SolveRepo interface {
	// ListSolvesByUser returns every solve owned by the user.
	ListSolvesByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Solve, error)

	// InsertSolves bulk-creates new solve rows.
	InsertSolves(ctx context.Context, db *gorm.DB, solves []domain.Solve) error

	// DeleteSolvesByUser removes the user's solves matching the startTime ids.
	DeleteSolvesByUser(ctx context.Context, db *gorm.DB, userID string, ids []int64) error
}

// PushRecord is one client-submitted new solve, parsed from the wire but
// not yet validated. ID and StartTime are pointers so presence can be
// checked independently of the zero value.
type PushRecord struct {
	ID        *uint
	StartTime *int64
	Event     string
	Time      int64
	DNF       bool
	Moves     []domain.Move
}

// SyncService reconciles a client's local solve set against the stored
// one. It holds no state between calls; concurrent pulls and pushes for
// the same user serialize at the repository layer.
type SyncService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the solve repository used by this service.
	Repo SolveRepo
}

// NewSyncService constructs a SyncService.
func NewSyncService(db *gorm.DB, r SolveRepo) *SyncService {
	return &SyncService{DB: db, Repo: r}
}

// Pull compares the client's known solve ids against the user's stored
// solves. It returns the solves the client lacks (each stored solve at
// most once, ordered by startTime) and the ids the client holds that the
// server does not, in the client's original order with duplicates dropped.
func (s *SyncService) Pull(ctx context.Context, userID string, known []int64) (missing []int64, solves []domain.Solve, err error) {
	stored, err := s.Repo.ListSolvesByUser(ctx, s.DB, userID)
	if err != nil {
		return nil, nil, err
	}

	knownSet := make(map[int64]bool, len(known))
	order := make([]int64, 0, len(known))
	for _, id := range known {
		if _, dup := knownSet[id]; !dup {
			knownSet[id] = false
			order = append(order, id)
		}
	}

	solves = make([]domain.Solve, 0)
	for _, sv := range stored {
		if _, ok := knownSet[sv.StartTime]; ok {
			knownSet[sv.StartTime] = true // client already has it
			continue
		}
		solves = append(solves, sv)
	}

	missing = make([]int64, 0)
	for _, id := range order {
		if !knownSet[id] {
			missing = append(missing, id)
		}
	}
	return missing, solves, nil
}

// Push validates and stores a batch of new solves for userID. Validation
// runs per record, in order, failing fast on the first violation: a record
// must not carry a repository id and must have a startTime. No row is
// written unless the whole batch validates.
func (s *SyncService) Push(ctx context.Context, userID string, records []PushRecord) error {
	rows := make([]domain.Solve, 0, len(records))
	for _, r := range records {
		if r.ID != nil {
			return ErrHasIdentity
		}
		if r.StartTime == nil {
			return ErrMissingStartTime
		}
		moves := r.Moves
		if moves == nil {
			moves = []domain.Move{}
		}
		rows = append(rows, domain.Solve{
			UserID:    userID,
			StartTime: *r.StartTime,
			Event:     r.Event,
			Time:      r.Time,
			DNF:       r.DNF,
			Moves:     moves,
		})
	}
	return s.Repo.InsertSolves(ctx, s.DB, rows)
}

// Delete removes the user's solves whose startTime is in ids. Unknown ids
// are ignored, so repeating a delete is harmless.
func (s *SyncService) Delete(ctx context.Context, userID string, ids []int64) error {
	return s.Repo.DeleteSolvesByUser(ctx, s.DB, userID, ids)
}
