/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/rewirehq/rewire/internal/apperrors"
	"github.com/rewirehq/rewire/internal/sqlutil"
	"github.com/rewirehq/rewire/pkg/domain"
)

// PostgresStore implements Store against a Postgres database reached via
// pgx's database/sql driver: INSERT ... RETURNING for writes, explicit
// sqlx scans for reads, every error translated through apperrors before
// it leaves the package.
type PostgresStore struct {
	db     *sqlx.DB
	logger logr.Logger
}

// NewPostgresStore wraps an already-opened *sql.DB (registered under the
// "pgx" driver name) for use as a Store.
func NewPostgresStore(db *sql.DB, logger logr.Logger) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "pgx"), logger: logger}
}

func (s *PostgresStore) CreateExpectation(ctx context.Context, e domain.Expectation) (domain.Expectation, error) {
	if e.ExpectedIntervalS < 60 {
		return domain.Expectation{}, apperrors.NewValidationError("expected_interval_s must be >= 60")
	}
	if e.ToleranceS < 0 {
		return domain.Expectation{}, apperrors.NewValidationError("tolerance_s must be >= 0")
	}
	if e.Type != domain.ExpectationSchedule && e.Type != domain.ExpectationAlertPath {
		return domain.Expectation{}, apperrors.NewValidationError("type must be schedule or alert_path")
	}

	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO expectations
			(id, type, name, owner_email, expected_interval_s, tolerance_s, params_json, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, now(), now())
		RETURNING created_at, updated_at`,
		e.ID, e.Type, e.Name, e.OwnerEmail, e.ExpectedIntervalS, e.ToleranceS, e.ParamsJSON,
	)
	if err := row.Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.Expectation{}, apperrors.New(apperrors.ErrorTypeConflict, "expectation id already exists")
		}
		return domain.Expectation{}, apperrors.NewDatabaseError("create_expectation", err)
	}
	e.Enabled = true
	return e, nil
}

func (s *PostgresStore) GetExpectation(ctx context.Context, id string) (domain.Expectation, error) {
	var e expectationRow
	err := s.db.GetContext(ctx, &e, `
		SELECT id, type, name, owner_email, expected_interval_s, tolerance_s, params_json, enabled, created_at, updated_at
		FROM expectations WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return domain.Expectation{}, apperrors.NewNotFoundError("expectation")
	}
	if err != nil {
		return domain.Expectation{}, apperrors.NewDatabaseError("get_expectation", err)
	}
	return e.toDomain(), nil
}

func (s *PostgresStore) ListEnabledExpectations(ctx context.Context) ([]domain.Expectation, error) {
	var rows []expectationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, type, name, owner_email, expected_interval_s, tolerance_s, params_json, enabled, created_at, updated_at
		FROM expectations WHERE enabled = true ORDER BY id`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_enabled_expectations", err)
	}
	out := make([]domain.Expectation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *PostgresStore) SetEnabled(ctx context.Context, id string, enabled bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE expectations SET enabled = $1, updated_at = now() WHERE id = $2`, enabled, id)
	if err != nil {
		return false, apperrors.NewDatabaseError("set_enabled", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError("set_enabled", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) AddObservation(ctx context.Context, expectationID string, kind domain.ObservationKind, meta string) (int64, error) {
	var seq int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO observations (expectation_id, kind, observed_at, meta)
		VALUES ($1, $2, now(), $3)
		RETURNING seq`, expectationID, kind, sqlutil.ToNullStringValue(meta)).Scan(&seq)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, apperrors.NewNotFoundError("expectation")
		}
		return 0, apperrors.NewDatabaseError("add_observation", err)
	}
	return seq, nil
}

func (s *PostgresStore) RecentObservations(ctx context.Context, expectationID string, limit int) ([]domain.Observation, error) {
	var rows []observationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT seq, expectation_id, kind, observed_at, meta FROM observations
		WHERE expectation_id = $1
		ORDER BY observed_at DESC, seq DESC
		LIMIT $2`, expectationID, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("recent_observations", err)
	}
	out := make([]domain.Observation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *PostgresStore) LastObservationTime(ctx context.Context, expectationID string, kind *domain.ObservationKind) (*int64, error) {
	var t sql.NullTime
	var err error
	if kind != nil {
		err = s.db.GetContext(ctx, &t, `SELECT max(observed_at) FROM observations WHERE expectation_id = $1 AND kind = $2`, expectationID, *kind)
	} else {
		err = s.db.GetContext(ctx, &t, `SELECT max(observed_at) FROM observations WHERE expectation_id = $1`, expectationID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("last_observation_time", err)
	}
	if !t.Valid {
		return nil, nil
	}
	u := t.Time.Unix()
	return &u, nil
}

func (s *PostgresStore) CreateTrial(ctx context.Context, id, expectationID, meta string, sentAt int64) (domain.AlertTrial, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_trials (id, expectation_id, sent_at, status, meta)
		VALUES ($1, $2, to_timestamp($3), 'pending', $4)`, id, expectationID, sentAt, meta)
	if err != nil {
		return domain.AlertTrial{}, apperrors.NewDatabaseError("create_trial", err)
	}
	return domain.AlertTrial{
		ID: id, ExpectationID: expectationID, SentAt: time.Unix(sentAt, 0).UTC(),
		Status: domain.TrialPending, Meta: meta,
	}, nil
}

func (s *PostgresStore) AckTrial(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_trials SET status = 'acked', acked_at = now()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, apperrors.NewDatabaseError("ack_trial", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError("ack_trial", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) ExpireTrial(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_trials SET status = 'expired'
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, apperrors.NewDatabaseError("expire_trial", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError("expire_trial", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) PendingTrials(ctx context.Context, expectationID string) ([]domain.AlertTrial, error) {
	var rows []trialRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, expectation_id, sent_at, acked_at, status, meta FROM alert_trials
		WHERE expectation_id = $1 AND status = 'pending'
		ORDER BY sent_at ASC`, expectationID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("pending_trials", err)
	}
	out := make([]domain.AlertTrial, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *PostgresStore) OpenViolation(ctx context.Context, expectationID, code string) (*domain.Violation, error) {
	var v violationRow
	err := s.db.GetContext(ctx, &v, `
		SELECT id, expectation_id, code, message, evidence_json, detected_at, last_notified_at, is_open
		FROM violations WHERE expectation_id = $1 AND code = $2 AND is_open = true`, expectationID, code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("open_violation", err)
	}
	out := v.toDomain()
	return &out, nil
}

func (s *PostgresStore) CreateViolation(ctx context.Context, expectationID, code, message string, evidence map[string]any) (domain.Violation, error) {
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return domain.Violation{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal evidence")
	}
	var id int64
	var detectedAt time.Time
	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO violations (expectation_id, code, message, evidence_json, detected_at, is_open)
		VALUES ($1, $2, $3, $4, now(), true)
		RETURNING id, detected_at`, expectationID, code, message, evidenceJSON).Scan(&id, &detectedAt)
	if err != nil {
		return domain.Violation{}, apperrors.NewDatabaseError("create_violation", err)
	}
	return domain.Violation{
		ID: id, ExpectationID: expectationID, Code: code, Message: message,
		Evidence: evidence, DetectedAt: detectedAt, IsOpen: true,
	}, nil
}

func (s *PostgresStore) CloseViolations(ctx context.Context, expectationID string, codes []string) (int, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE violations SET is_open = false
		WHERE expectation_id = $1 AND code = ANY($2) AND is_open = true`, expectationID, codes)
	if err != nil {
		return 0, apperrors.NewDatabaseError("close_violations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewDatabaseError("close_violations", err)
	}
	return int(n), nil
}

func (s *PostgresStore) MarkNotified(ctx context.Context, violationID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE violations SET last_notified_at = now() WHERE id = $1`, violationID)
	if err != nil {
		return apperrors.NewDatabaseError("mark_notified", err)
	}
	return nil
}

func (s *PostgresStore) OpenViolationsCount(ctx context.Context, expectationID string) (int, error) {
	var n int
	var err error
	if expectationID != "" {
		err = s.db.GetContext(ctx, &n, `SELECT count(*) FROM violations WHERE expectation_id = $1 AND is_open = true`, expectationID)
	} else {
		err = s.db.GetContext(ctx, &n, `SELECT count(*) FROM violations WHERE is_open = true`)
	}
	if err != nil {
		return 0, apperrors.NewDatabaseError("open_violations_count", err)
	}
	return n, nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "health check failed")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return asPgError(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return asPgError(err, &pgErr) && pgErr.Code == "23503"
}

func asPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pe, ok := err.(*pgconn.PgError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// --- row shapes: database/sql scans land here before promotion to domain ---

type expectationRow struct {
	ID                string    `db:"id"`
	Type              string    `db:"type"`
	Name              string    `db:"name"`
	OwnerEmail        string    `db:"owner_email"`
	ExpectedIntervalS int64     `db:"expected_interval_s"`
	ToleranceS        int64     `db:"tolerance_s"`
	ParamsJSON        string    `db:"params_json"`
	Enabled           bool      `db:"enabled"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r expectationRow) toDomain() domain.Expectation {
	return domain.Expectation{
		ID: r.ID, Type: domain.ExpectationType(r.Type), Name: r.Name, OwnerEmail: r.OwnerEmail,
		ExpectedIntervalS: r.ExpectedIntervalS, ToleranceS: r.ToleranceS, ParamsJSON: r.ParamsJSON,
		Enabled: r.Enabled, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

type observationRow struct {
	Seq           int64          `db:"seq"`
	ExpectationID string         `db:"expectation_id"`
	Kind          string         `db:"kind"`
	ObservedAt    time.Time      `db:"observed_at"`
	Meta          sql.NullString `db:"meta"`
}

func (r observationRow) toDomain() domain.Observation {
	return domain.Observation{
		Seq: r.Seq, ExpectationID: r.ExpectationID, Kind: domain.ObservationKind(r.Kind),
		ObservedAt: r.ObservedAt, Meta: r.Meta.String,
	}
}

type trialRow struct {
	ID            string         `db:"id"`
	ExpectationID string         `db:"expectation_id"`
	SentAt        time.Time      `db:"sent_at"`
	AckedAt       sql.NullTime   `db:"acked_at"`
	Status        string         `db:"status"`
	Meta          sql.NullString `db:"meta"`
}

func (r trialRow) toDomain() domain.AlertTrial {
	return domain.AlertTrial{
		ID: r.ID, ExpectationID: r.ExpectationID, SentAt: r.SentAt,
		AckedAt: sqlutil.FromNullTime(r.AckedAt), Status: domain.TrialStatus(r.Status), Meta: r.Meta.String,
	}
}

type violationRow struct {
	ID             int64          `db:"id"`
	ExpectationID  string         `db:"expectation_id"`
	Code           string         `db:"code"`
	Message        string         `db:"message"`
	EvidenceJSON   []byte         `db:"evidence_json"`
	DetectedAt     time.Time      `db:"detected_at"`
	LastNotifiedAt sql.NullTime   `db:"last_notified_at"`
	IsOpen         bool           `db:"is_open"`
}

func (r violationRow) toDomain() domain.Violation {
	var evidence map[string]any
	_ = json.Unmarshal(r.EvidenceJSON, &evidence)
	return domain.Violation{
		ID: r.ID, ExpectationID: r.ExpectationID, Code: r.Code, Message: r.Message, Evidence: evidence,
		DetectedAt: r.DetectedAt, LastNotifiedAt: sqlutil.FromNullTime(r.LastNotifiedAt), IsOpen: r.IsOpen,
	}
}
