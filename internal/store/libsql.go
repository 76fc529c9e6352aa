package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// LibSQLStore implements Store on libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/sequencer.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so they go through QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Sequences ---

func (s *LibSQLStore) CreateSequence(ctx context.Context, seq *Sequence) error {
	if seq.ID == "" {
		seq.ID = uuid.New().String()
	}
	if seq.Status == "" {
		seq.Status = schema.SequenceStatusDraft
	}
	settings, err := json.Marshal(seq.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	exits := seq.ExitConditions
	if exits == nil {
		exits = []schema.ExitCondition{}
	}
	exitJSON, err := json.Marshal(exits)
	if err != nil {
		return fmt.Errorf("marshal exit_conditions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	seq.CreatedAt = timeOrNow(seq.CreatedAt)
	seq.UpdatedAt = now
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sequences (id, organization_id, name, description, status, settings, exit_conditions, enrolled_count, completed_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seq.ID, seq.OrganizationID, seq.Name, nullStr(seq.Description), string(seq.Status),
		string(settings), string(exitJSON), seq.EnrolledCount, seq.CompletedCount,
		dbTime(seq.CreatedAt), dbTime(seq.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert sequence: %w", err)
	}

	for _, st := range seq.Steps {
		if st.ID == "" {
			st.ID = uuid.New().String()
		}
		st.SequenceID = seq.ID
		st.CreatedAt = timeOrNow(st.CreatedAt)
		cfg, err := json.Marshal(stepConfig{Email: st.Email, Condition: st.Condition})
		if err != nil {
			return fmt.Errorf("marshal step %d config: %w", st.Order, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sequence_steps (id, sequence_id, step_order, step_type, delay_days, delay_hours, delay_minutes, config, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID, seq.ID, st.Order, string(st.Type), st.Delay.Days, st.Delay.Hours, st.Delay.Minutes,
			string(cfg), dbTime(st.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", st.Order, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sequence: %w", err)
	}
	return nil
}

const sequenceColumns = `id, organization_id, name, description, status, settings, exit_conditions, enrolled_count, completed_count, created_at, updated_at`

func scanSequence(row interface{ Scan(...any) error }) (*Sequence, error) {
	seq := &Sequence{}
	var (
		desc                   sql.NullString
		status                 string
		settingsJSON, exitJSON string
	)
	if err := row.Scan(&seq.ID, &seq.OrganizationID, &seq.Name, &desc, &status, &settingsJSON, &exitJSON,
		&seq.EnrolledCount, &seq.CompletedCount, &seq.CreatedAt, &seq.UpdatedAt); err != nil {
		return nil, err
	}
	seq.Description = desc.String
	seq.Status = schema.SequenceStatus(status)
	if err := json.Unmarshal([]byte(settingsJSON), &seq.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := json.Unmarshal([]byte(exitJSON), &seq.ExitConditions); err != nil {
		return nil, fmt.Errorf("unmarshal exit_conditions: %w", err)
	}
	return seq, nil
}

func (s *LibSQLStore) GetSequence(ctx context.Context, id string) (*Sequence, error) {
	seq, err := scanSequence(s.db.QueryRowContext(ctx,
		`SELECT `+sequenceColumns+` FROM sequences WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("sequence", id)
	}
	if err != nil {
		return nil, err
	}
	seq.Steps, err = s.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	return seq, nil
}

func (s *LibSQLStore) listSteps(ctx context.Context, sequenceID string) ([]*Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sequence_id, step_order, step_type, delay_days, delay_hours, delay_minutes, config, created_at
		 FROM sequence_steps WHERE sequence_id = ? ORDER BY step_order ASC`, sequenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*Step
	for rows.Next() {
		st := &Step{}
		var stepType string
		var cfgJSON sql.NullString
		if err := rows.Scan(&st.ID, &st.SequenceID, &st.Order, &stepType,
			&st.Delay.Days, &st.Delay.Hours, &st.Delay.Minutes, &cfgJSON, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.Type = schema.StepType(stepType)
		if cfgJSON.Valid && cfgJSON.String != "" {
			var cfg stepConfig
			if err := json.Unmarshal([]byte(cfgJSON.String), &cfg); err != nil {
				return nil, fmt.Errorf("unmarshal step %s config: %w", st.ID, err)
			}
			st.Email = cfg.Email
			st.Condition = cfg.Condition
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *LibSQLStore) UpdateSequenceStatus(ctx context.Context, id string, status schema.SequenceStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sequences SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "sequence", id)
}

func (s *LibSQLStore) ListSequences(ctx context.Context, filter SequenceFilter) ([]*Sequence, error) {
	var where []string
	var args []any

	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + sequenceColumns + ` FROM sequences`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var sequences []*Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sequences = append(sequences, seq)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Steps load after the cursor closes; the pool holds a single connection.
	for _, seq := range sequences {
		if seq.Steps, err = s.listSteps(ctx, seq.ID); err != nil {
			return nil, err
		}
	}
	return sequences, nil
}

// --- Records ---

func (s *LibSQLStore) UpsertRecord(ctx context.Context, rec *Record) error {
	fields, err := marshalMapOrDefault(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal record fields: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, module_key, email, fields, updated_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET module_key=excluded.module_key, email=excluded.email, fields=excluded.fields, updated_at=CURRENT_TIMESTAMP`,
		rec.ID, rec.ModuleKey, nullStr(rec.Email), string(fields),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	for _, tag := range rec.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO record_tags (record_id, tag) VALUES (?, ?)`, rec.ID, tag); err != nil {
			return fmt.Errorf("insert record tag: %w", err)
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	rec := &Record{}
	var email sql.NullString
	var fields string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, module_key, email, fields, updated_at FROM records WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.ModuleKey, &email, &fields, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("record", id)
	}
	if err != nil {
		return nil, err
	}
	rec.Email = email.String
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal record fields: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM record_tags WHERE record_id = ? ORDER BY tag`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		rec.Tags = append(rec.Tags, tag)
	}
	return rec, rows.Err()
}

func (s *LibSQLStore) AddRecordTag(ctx context.Context, recordID, tag string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO record_tags (record_id, tag) VALUES (?, ?)`, recordID, tag)
	return err
}

func (s *LibSQLStore) RemoveRecordTag(ctx context.Context, recordID, tag string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM record_tags WHERE record_id = ? AND tag = ?`, recordID, tag)
	return err
}

func (s *LibSQLStore) HasRecordTag(ctx context.Context, recordID, tag string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM record_tags WHERE record_id = ? AND tag = ?`, recordID, tag)
}

// --- Signals ---

func (s *LibSQLStore) AppendSignal(ctx context.Context, sig *Signal) error {
	sig.OccurredAt = timeOrNow(sig.OccurredAt)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO email_events (enrollment_id, record_id, email, event_type, payload, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nullStr(sig.EnrollmentID), nullStr(sig.RecordID), nullStr(normalizeEmail(sig.Email)),
		string(sig.Type), nullRaw(sig.Payload), dbTime(sig.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		sig.ID = id
	}
	return nil
}

func (s *LibSQLStore) HasSignal(ctx context.Context, enrollmentID string, signalType schema.SignalType) (bool, error) {
	return s.exists(ctx,
		`SELECT COUNT(*) FROM email_events WHERE enrollment_id = ? AND event_type = ?`,
		enrollmentID, string(signalType))
}

func (s *LibSQLStore) ListSignals(ctx context.Context, enrollmentID string) ([]*Signal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, enrollment_id, record_id, email, event_type, payload, occurred_at
		 FROM email_events WHERE enrollment_id = ? ORDER BY id ASC`, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*Signal
	for rows.Next() {
		sig := &Signal{}
		var enrID, recID, email, payload sql.NullString
		var eventType string
		if err := rows.Scan(&sig.ID, &enrID, &recID, &email, &eventType, &payload, &sig.OccurredAt); err != nil {
			return nil, err
		}
		sig.EnrollmentID = enrID.String
		sig.RecordID = recID.String
		sig.Email = email.String
		sig.Type = schema.SignalType(eventType)
		sig.Payload = rawOrNil(payload)
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// --- Unsubscribes ---

func (s *LibSQLStore) AddUnsubscribe(ctx context.Context, email, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unsubscribes (email, reason) VALUES (?, ?) ON CONFLICT(email) DO NOTHING`,
		normalizeEmail(email), nullStr(reason))
	return err
}

func (s *LibSQLStore) IsUnsubscribed(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM unsubscribes WHERE email = ?`, normalizeEmail(email))
}

// --- Enrollments ---

const enrollmentColumns = `id, sequence_id, record_id, module_key, email, enrolled_by, current_step_id, current_step_order, status, next_step_at, enrolled_at, completed_at, exited_at, exit_reason, claimed_by, claimed_until, updated_at`

func scanEnrollment(row interface{ Scan(...any) error }) (*Enrollment, error) {
	e := &Enrollment{}
	var (
		enrolledBy, stepID, exitReason, claimedBy sql.NullString
		nextAt, completedAt, exitedAt, claimedTil sql.NullTime
		status                                    string
	)
	if err := row.Scan(&e.ID, &e.SequenceID, &e.RecordID, &e.ModuleKey, &e.Email, &enrolledBy,
		&stepID, &e.CurrentStepOrder, &status, &nextAt, &e.EnrolledAt, &completedAt, &exitedAt,
		&exitReason, &claimedBy, &claimedTil, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.EnrolledBy = enrolledBy.String
	e.CurrentStepID = stepID.String
	e.ExitReason = exitReason.String
	e.ClaimedBy = claimedBy.String
	e.Status = schema.EnrollmentStatus(status)
	e.NextStepAt = timePtr(nextAt)
	e.CompletedAt = timePtr(completedAt)
	e.ExitedAt = timePtr(exitedAt)
	e.ClaimedUntil = timePtr(claimedTil)
	return e, nil
}

func (s *LibSQLStore) CreateEnrollment(ctx context.Context, enr *Enrollment) error {
	if enr.ID == "" {
		enr.ID = uuid.New().String()
	}
	enr.EnrolledAt = timeOrNow(enr.EnrolledAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var open int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE sequence_id = ? AND record_id = ? AND status IN ('active', 'paused')`,
		enr.SequenceID, enr.RecordID,
	).Scan(&open); err != nil {
		return fmt.Errorf("check open enrollment: %w", err)
	}
	if open > 0 {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"record %q is already enrolled in sequence %q", enr.RecordID, enr.SequenceID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO enrollments (id, sequence_id, record_id, module_key, email, enrolled_by, current_step_id, current_step_order, status, next_step_at, enrolled_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		enr.ID, enr.SequenceID, enr.RecordID, enr.ModuleKey, enr.Email, nullStr(enr.EnrolledBy),
		nullStr(enr.CurrentStepID), enr.CurrentStepOrder, string(enr.Status),
		nullDBTime(enr.NextStepAt), dbTime(enr.EnrolledAt),
	)
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sequences SET enrolled_count = enrolled_count + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		enr.SequenceID)
	if err != nil {
		return fmt.Errorf("bump enrolled_count: %w", err)
	}
	if err := checkRowsAffected(res, "sequence", enr.SequenceID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEnrollment(ctx context.Context, id string) (*Enrollment, error) {
	e, err := scanEnrollment(s.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("enrollment", id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *LibSQLStore) ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]*Enrollment, error) {
	var where []string
	var args []any

	if filter.SequenceID != "" {
		where = append(where, "sequence_id = ?")
		args = append(args, filter.SequenceID)
	}
	if filter.RecordID != "" {
		where = append(where, "record_id = ?")
		args = append(args, filter.RecordID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + enrollmentColumns + ` FROM enrollments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY enrolled_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClaimDue leases up to limit active enrollments due at now to owner.
// Each row is claimed with a conditional update, so two owners never hold the
// same enrollment; a lease past claimed_until is free to be taken again.
func (s *LibSQLStore) ClaimDue(ctx context.Context, owner string, now time.Time, lease time.Duration, limit int) ([]*Enrollment, error) {
	if limit <= 0 {
		return nil, nil
	}
	nowDB := dbTime(now)
	until := dbTime(now.Add(lease))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM enrollments
		 WHERE status = 'active' AND next_step_at IS NOT NULL AND next_step_at <= ?
		   AND (claimed_until IS NULL OR claimed_until < ?)
		 ORDER BY next_step_at ASC, id
		 LIMIT ?`, nowDB, nowDB, limit)
	if err != nil {
		return nil, fmt.Errorf("select due: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var claimed []string
	for _, id := range candidates {
		res, err := tx.ExecContext(ctx,
			`UPDATE enrollments SET claimed_by = ?, claimed_until = ?
			 WHERE id = ? AND status = 'active' AND (claimed_until IS NULL OR claimed_until < ?)`,
			owner, until, id, nowDB)
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			claimed = append(claimed, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	out := make([]*Enrollment, 0, len(claimed))
	for _, id := range claimed {
		e, err := s.GetEnrollment(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ReleaseClaim drops owner's lease. Releasing a lease owner no longer holds is a no-op.
func (s *LibSQLStore) ReleaseClaim(ctx context.Context, enrollmentID, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE enrollments SET claimed_by = NULL, claimed_until = NULL WHERE id = ? AND claimed_by = ?`,
		enrollmentID, owner)
	return err
}

// CommitTransition writes tr atomically: the optional execution row, the new
// enrollment state with its claim cleared unless RetainClaim is set, and the
// sequence completion counter.
func (s *LibSQLStore) CommitTransition(ctx context.Context, enrollmentID string, tr Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if tr.Execution != nil {
		tr.Execution.EnrollmentID = enrollmentID
		if err := insertExecution(ctx, tx, tr.Execution); err != nil {
			return err
		}
	}

	claim := "claimed_by = NULL, claimed_until = NULL,"
	if tr.RetainClaim {
		claim = ""
	}
	query := `UPDATE enrollments SET status = ?, current_step_id = ?, current_step_order = ?, next_step_at = ?,
		completed_at = ?, exited_at = ?, exit_reason = ?, ` + claim + `
		updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`
	args := []any{
		string(tr.Status), nullStr(tr.CurrentStepID), tr.CurrentStepOrder, nullDBTime(tr.NextStepAt),
		nullDBTime(tr.CompletedAt), nullDBTime(tr.ExitedAt), nullStr(tr.ExitReason), enrollmentID,
	}
	if tr.From != "" {
		query += " AND status = ?"
		args = append(args, string(tr.From))
	}
	if tr.ClaimOwner != "" {
		query += " AND claimed_by = ?"
		args = append(args, tr.ClaimOwner)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return s.explainMissedUpdate(ctx, tx, enrollmentID, tr)
	}

	if tr.IncrementCompleted {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sequences SET completed_count = completed_count + 1, updated_at = CURRENT_TIMESTAMP
			 WHERE id = (SELECT sequence_id FROM enrollments WHERE id = ?)`, enrollmentID); err != nil {
			return fmt.Errorf("bump completed_count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// explainMissedUpdate classifies a guarded update that matched no row.
func (s *LibSQLStore) explainMissedUpdate(ctx context.Context, tx *sql.Tx, enrollmentID string, tr Transition) error {
	var status string
	var claimedBy sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT status, claimed_by FROM enrollments WHERE id = ?`, enrollmentID,
	).Scan(&status, &claimedBy)
	if err == sql.ErrNoRows {
		return storeNotFound("enrollment", enrollmentID)
	}
	if err != nil {
		return err
	}
	if tr.ClaimOwner != "" && claimedBy.String != tr.ClaimOwner {
		return schema.NewErrorf(schema.ErrCodeClaimLost,
			"enrollment %q is no longer claimed by %q", enrollmentID, tr.ClaimOwner)
	}
	return schema.NewErrorf(schema.ErrCodeConflict,
		"enrollment %q is %s, expected %s", enrollmentID, status, tr.From)
}

// --- Step executions ---

func (s *LibSQLStore) AppendExecution(ctx context.Context, exec *StepExecution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := insertExecution(ctx, tx, exec); err != nil {
		return err
	}
	return tx.Commit()
}

func insertExecution(ctx context.Context, tx *sql.Tx, exec *StepExecution) error {
	exec.ExecutedAt = timeOrNow(exec.ExecutedAt)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO step_executions (enrollment_id, sequence_id, step_id, step_order, step_type, status, result, error, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.EnrollmentID, exec.SequenceID, exec.StepID, exec.StepOrder, string(exec.StepType),
		string(exec.Status), nullRaw(exec.Result), nullStr(exec.Error), dbTime(exec.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("insert step execution: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		exec.ID = id
	}
	return nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, enrollmentID string) ([]*StepExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, enrollment_id, sequence_id, step_id, step_order, step_type, status, result, error, executed_at
		 FROM step_executions WHERE enrollment_id = ? ORDER BY id ASC`, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*StepExecution
	for rows.Next() {
		ex := &StepExecution{}
		var stepType, status string
		var result, errText sql.NullString
		if err := rows.Scan(&ex.ID, &ex.EnrollmentID, &ex.SequenceID, &ex.StepID, &ex.StepOrder,
			&stepType, &status, &result, &errText, &ex.ExecutedAt); err != nil {
			return nil, err
		}
		ex.StepType = schema.StepType(stepType)
		ex.Status = schema.ExecutionStatus(status)
		ex.Result = rawOrNil(result)
		ex.Error = errText.String
		execs = append(execs, ex)
	}
	return execs, rows.Err()
}

// --- Outbound emails ---

func (s *LibSQLStore) EnqueueOutbound(ctx context.Context, msg *OutboundEmail) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = schema.OutboundQueued
	}
	msg.CreatedAt = timeOrNow(msg.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbound_emails (id, to_email, subject, html_body, text_body, from_override, sequence_id, enrollment_id, step_id, record_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.To, msg.Subject, nullStr(msg.HTMLBody), nullStr(msg.TextBody), nullStr(msg.FromOverride),
		msg.SequenceID, msg.EnrollmentID, msg.StepID, msg.RecordID, string(msg.Status), dbTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert outbound email: %w", err)
	}
	return nil
}

func (s *LibSQLStore) ListOutbound(ctx context.Context, filter OutboundFilter) ([]*OutboundEmail, error) {
	var where []string
	var args []any

	if filter.SequenceID != "" {
		where = append(where, "sequence_id = ?")
		args = append(args, filter.SequenceID)
	}
	if filter.EnrollmentID != "" {
		where = append(where, "enrollment_id = ?")
		args = append(args, filter.EnrollmentID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT id, to_email, subject, html_body, text_body, from_override, sequence_id, enrollment_id, step_id, record_id, status, created_at FROM outbound_emails`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OutboundEmail
	for rows.Next() {
		m := &OutboundEmail{}
		var html, text, from sql.NullString
		var status string
		if err := rows.Scan(&m.ID, &m.To, &m.Subject, &html, &text, &from, &m.SequenceID,
			&m.EnrollmentID, &m.StepID, &m.RecordID, &status, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.HTMLBody = html.String
		m.TextBody = text.String
		m.FromOverride = from.String
		m.Status = schema.OutboundStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Helpers ---

func (s *LibSQLStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func storeNotFound(resource, id string) *schema.SequencerError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

// dbTime normalizes instants to whole UTC seconds so stored values compare
// correctly as text.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullDBTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return dbTime(*t)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ Store = (*LibSQLStore)(nil)
