package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type postgresStore struct {
	db   *sql.DB
	exec SQLExecutor
}

// NewPostgresStore returns a Store backed by db. Nested InTx calls join the outer transaction.
func NewPostgresStore(db *sql.DB) Store {
	return &postgresStore{db: db, exec: db}
}

func (s *postgresStore) Tournaments() TournamentRepository {
	return &postgresTournamentRepository{db: s.exec}
}

func (s *postgresStore) Entries() EntryRepository {
	return &postgresEntryRepository{db: s.exec}
}

func (s *postgresStore) Instructions() InstructionRepository {
	return &postgresInstructionRepository{db: s.exec}
}

func (s *postgresStore) Jobs() JobRepository {
	return &postgresJobRepository{db: s.exec}
}

func (s *postgresStore) Stats() StatsRepository {
	return &postgresStatsRepository{db: s.exec}
}

func (s *postgresStore) InTx(ctx context.Context, fn func(tx Store) error) (txErr error) {
	if _, nested := s.exec.(*sql.Tx); nested {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if txErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				txErr = fmt.Errorf("transaction processing error: %w (rollback also failed: %v)", txErr, rbErr)
			}
		} else if cErr := tx.Commit(); cErr != nil {
			txErr = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()

	return fn(&postgresStore{db: s.db, exec: tx})
}

func pqCode(err error) (pq.ErrorCode, string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code, pqErr.Constraint, true
	}
	return "", "", false
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}
