package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pagebatch/internal/domain"
	"pagebatch/internal/infra"
	"pagebatch/internal/sqlinline"
)

const pgForeignKeyViolation = "23503"

// ResultRepositoryPG implements domain.ResultRepository.
type ResultRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewResultRepository creates a new result repository backed by PostgreSQL.
func NewResultRepository(sql infra.SQLExecutor) *ResultRepositoryPG {
	return &ResultRepositoryPG{sql: sql}
}

// Upsert writes the outcome for (jobID, fileIndex), replacing any previous attempt.
func (r *ResultRepositoryPG) Upsert(ctx context.Context, jobID int64, fileName string, fileIndex int, outcome domain.Outcome) (*domain.Result, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QUpsertResult,
		jobID,
		fileName,
		fileIndex,
		[]byte(outcome.Payload()),
		string(outcome.Kind),
	)
	res, err := scanResult(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, fmt.Errorf("job %d: %w", jobID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: upsert result %d/%d: %w", domain.ErrPersistence, jobID, fileIndex, err)
	}
	return res, nil
}

// ListByJob returns every result of the job ordered by file index.
func (r *ResultRepositoryPG) ListByJob(ctx context.Context, jobID int64) ([]domain.Result, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListResultsByJob, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: list results of job %d: %w", domain.ErrPersistence, jobID, err)
	}
	defer rows.Close()

	var results []domain.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan result: %w", domain.ErrPersistence, err)
		}
		results = append(results, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate results: %w", domain.ErrPersistence, err)
	}
	return results, nil
}

func scanResult(row pgx.Row) (*domain.Result, error) {
	var (
		res     domain.Result
		payload []byte
		kind    string
	)
	if err := row.Scan(
		&res.ID,
		&res.JobID,
		&res.FileName,
		&res.FileIndex,
		&payload,
		&kind,
		&res.CreatedAt,
		&res.UpdatedAt,
	); err != nil {
		return nil, err
	}
	res.Outcome = domain.DecodeOutcome(kind, payload)
	return &res, nil
}

var _ domain.ResultRepository = (*ResultRepositoryPG)(nil)
