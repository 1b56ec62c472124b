package pancake

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresHistory implements HistoryStore using PostgreSQL.
//
// Two tables are used: <prefix>_runs holds one row per run, and
// <prefix>_history holds the append-only activity records with a
// primary key on (run_id, step_index), which makes Append atomic and
// at-most-once per logical step.
type PostgresHistory struct {
	db           *sql.DB
	runsTable    string
	historyTable string
}

// NewPostgresHistory creates a new PostgresHistory.
// tablePrefix defaults to "pancake" if empty.
func NewPostgresHistory(db *sql.DB, tablePrefix string) (*PostgresHistory, error) {
	if tablePrefix == "" {
		tablePrefix = "pancake"
	}
	if !validTableName.MatchString(tablePrefix) {
		return nil, fmt.Errorf("invalid table prefix: %s", tablePrefix)
	}
	return &PostgresHistory{
		db:           db,
		runsTable:    tablePrefix + "_runs",
		historyTable: tablePrefix + "_history",
	}, nil
}

// IsProductionSafe returns true - PostgresHistory is production safe.
func (s *PostgresHistory) IsProductionSafe() bool {
	return true
}

// CreateRun inserts a new run in running state, or attaches to an existing one.
func (s *PostgresHistory) CreateRun(ctx context.Context, runID string, input json.RawMessage) (bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, status, input, created_at, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO NOTHING
	`, s.runsTable)

	result, err := s.db.ExecContext(ctx, query, runID, StatusRunning, []byte(input))
	if err != nil {
		return false, fmt.Errorf("insert run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// Append adds one completed activity record to a run's history.
func (s *PostgresHistory) Append(ctx context.Context, runID string, rec ActivityRecord) error {
	var failureJSON any
	if rec.Failure != nil {
		b, err := json.Marshal(rec.Failure)
		if err != nil {
			return fmt.Errorf("marshal failure: %w", err)
		}
		failureJSON = string(b)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, step_index, activity_name, queue_name, input, attempt_count, result, failure, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, step_index) DO NOTHING
	`, s.historyTable)

	result, err := s.db.ExecContext(ctx, query,
		runID,
		rec.StepIndex,
		rec.ActivityName,
		rec.QueueName,
		[]byte(rec.Input),
		rec.AttemptCount,
		[]byte(rec.Result),
		failureJSON,
		rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return NewDuplicateStepError(runID, rec.StepIndex)
	}

	touch := fmt.Sprintf(`UPDATE %s SET updated_at = CURRENT_TIMESTAMP WHERE id = $1`, s.runsTable)
	if _, err := s.db.ExecContext(ctx, touch, runID); err != nil {
		return fmt.Errorf("touch run: %w", err)
	}
	return nil
}

// Load retrieves a run's history ordered by step index.
func (s *PostgresHistory) Load(ctx context.Context, runID string) ([]ActivityRecord, error) {
	query := fmt.Sprintf(`
		SELECT step_index, activity_name, queue_name, input, attempt_count, result, failure, completed_at
		FROM %s WHERE run_id = $1 ORDER BY step_index
	`, s.historyTable)

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var records []ActivityRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (ActivityRecord, error) {
	var (
		rec         ActivityRecord
		inputJSON   []byte
		resultJSON  []byte
		failureJSON sql.NullString
	)
	if err := rows.Scan(
		&rec.StepIndex,
		&rec.ActivityName,
		&rec.QueueName,
		&inputJSON,
		&rec.AttemptCount,
		&resultJSON,
		&failureJSON,
		&rec.CompletedAt,
	); err != nil {
		return rec, fmt.Errorf("scan: %w", err)
	}
	rec.Input = inputJSON
	rec.Result = resultJSON
	if failureJSON.Valid {
		var f FailureInfo
		if err := json.Unmarshal([]byte(failureJSON.String), &f); err != nil {
			return rec, fmt.Errorf("unmarshal failure: %w", err)
		}
		rec.Failure = &f
	}
	return rec, nil
}

// GetRun retrieves the full run record including history.
func (s *PostgresHistory) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, status, input, result, failure, created_at, updated_at
		FROM %s WHERE id = $1
	`, s.runsTable)

	var (
		record      RunRecord
		inputJSON   []byte
		resultJSON  []byte
		failureJSON sql.NullString
	)

	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&record.ID,
		&record.Status,
		&inputJSON,
		&resultJSON,
		&failureJSON,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	record.Input = inputJSON
	record.Result = resultJSON
	if failureJSON.Valid {
		var f FailureInfo
		if err := json.Unmarshal([]byte(failureJSON.String), &f); err != nil {
			return nil, fmt.Errorf("unmarshal failure: %w", err)
		}
		record.Failure = &f
	}

	history, err := s.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	record.History = history

	return &record, nil
}

// SetResult records a run's terminal status and outcome.
func (s *PostgresHistory) SetResult(ctx context.Context, runID string, status RunStatus, result json.RawMessage, failure *FailureInfo) error {
	var failureJSON any
	if failure != nil {
		b, err := json.Marshal(failure)
		if err != nil {
			return fmt.Errorf("marshal failure: %w", err)
		}
		failureJSON = string(b)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, result = $2, failure = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $4
	`, s.runsTable)

	res, err := s.db.ExecContext(ctx, query, status, []byte(result), failureJSON, runID)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Query retrieves runs matching the filter.
func (s *PostgresHistory) Query(ctx context.Context, filter RunFilter) (*RunQueryResult, error) {
	query := fmt.Sprintf(`SELECT id, status, input, result, failure, created_at, updated_at FROM %s WHERE 1=1`, s.runsTable)
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE 1=1`, s.runsTable)
	args := []any{}
	argIndex := 1

	if len(filter.Status) > 0 {
		placeholders := ""
		for i, st := range filter.Status {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += fmt.Sprintf("$%d", argIndex)
			args = append(args, st)
			argIndex++
		}
		statusFilter := fmt.Sprintf(" AND status IN (%s)", placeholders)
		query += statusFilter
		countQuery += statusFilter
	}

	if filter.CreatedAfter != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		countQuery += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		args = append(args, *filter.CreatedAfter)
		argIndex++
	}

	if filter.CreatedBefore != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIndex)
		countQuery += fmt.Sprintf(" AND created_at <= $%d", argIndex)
		args = append(args, *filter.CreatedBefore)
		argIndex++
	}

	if filter.UpdatedAfter != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", argIndex)
		countQuery += fmt.Sprintf(" AND updated_at >= $%d", argIndex)
		args = append(args, *filter.UpdatedAfter)
		argIndex++
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			record      RunRecord
			inputJSON   []byte
			resultJSON  []byte
			failureJSON sql.NullString
		)
		if err := rows.Scan(
			&record.ID,
			&record.Status,
			&inputJSON,
			&resultJSON,
			&failureJSON,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		record.Input = inputJSON
		record.Result = resultJSON
		if failureJSON.Valid {
			var f FailureInfo
			if err := json.Unmarshal([]byte(failureJSON.String), &f); err != nil {
				return nil, fmt.Errorf("unmarshal failure: %w", err)
			}
			record.Failure = &f
		}
		runs = append(runs, record)
	}

	return &RunQueryResult{
		Runs:  runs,
		Total: total,
	}, rows.Err()
}

// CountByStatus counts runs by status.
func (s *PostgresHistory) CountByStatus(ctx context.Context, statuses ...RunStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status IN (`, s.runsTable)
	args := make([]any, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			query += ", "
		}
		query += fmt.Sprintf("$%d", i+1)
		args[i] = st
	}
	query += ")"

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// Ensure PostgresHistory implements HistoryStore.
var _ HistoryStore = (*PostgresHistory)(nil)
