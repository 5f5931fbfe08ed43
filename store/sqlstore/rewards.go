// Package sqlstore keeps reward records in a SQL database so issuance
// history can be shared with reporting tools. The UNIQUE contribution id
// column is the at-most-once guard.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/paw-chain/poc/types"
)

// Dialect selects placeholder syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Open opens a database handle for the dialect's registered driver.
func Open(dialect Dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// a single writer avoids SQLITE_BUSY under concurrent reservations
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// RewardStore implements the reward record store on database/sql.
type RewardStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewRewardStore creates the schema if needed.
func NewRewardStore(db *sql.DB, dialect Dialect) (*RewardStore, error) {
	s := &RewardStore{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate reward store: %w", err)
	}
	return s, nil
}

func (s *RewardStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS reward_records (
		contribution_id TEXT NOT NULL UNIQUE,
		recipient TEXT NOT NULL,
		epoch BIGINT NOT NULL,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		record TEXT NOT NULL,
		issued_at TEXT NOT NULL DEFAULT ''
	);`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(context.Background(),
		`CREATE INDEX IF NOT EXISTS reward_records_epoch ON reward_records (epoch, status)`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(context.Background(), `
	CREATE TABLE IF NOT EXISTS reward_quotes (
		contribution_id TEXT NOT NULL UNIQUE,
		record TEXT NOT NULL
	);`)
	return err
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *RewardStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// QuoteReward keeps the first priced record of a contribution and returns it.
func (s *RewardStore) QuoteReward(ctx context.Context, rec types.RewardRecord) (types.RewardRecord, error) {
	blob, err := json.Marshal(rec)
	if err != nil {
		return types.RewardRecord{}, err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO reward_quotes (contribution_id, record) VALUES (?, ?)
		ON CONFLICT (contribution_id) DO NOTHING`),
		rec.ContributionID.String(), string(blob),
	); err != nil {
		return types.RewardRecord{}, fmt.Errorf("failed to quote reward: %w", err)
	}

	var stored string
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT record FROM reward_quotes WHERE contribution_id = ?`), rec.ContributionID.String())
	if err := row.Scan(&stored); err != nil {
		return types.RewardRecord{}, fmt.Errorf("failed to load reward quote: %w", err)
	}
	var quoted types.RewardRecord
	if err := json.Unmarshal([]byte(stored), &quoted); err != nil {
		return types.RewardRecord{}, fmt.Errorf("failed to decode reward quote %s: %w", rec.ContributionID, err)
	}
	return quoted, nil
}

// ReserveReward inserts a pending record unless one exists for the contribution.
func (s *RewardStore) ReserveReward(ctx context.Context, rec types.RewardRecord) (types.RewardRecord, bool, error) {
	rec.Status = types.RewardPending
	blob, err := json.Marshal(rec)
	if err != nil {
		return types.RewardRecord{}, false, err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO reward_records (contribution_id, recipient, epoch, status, amount, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (contribution_id) DO NOTHING`),
		rec.ContributionID.String(), rec.Recipient.String(), int64(rec.Epoch), string(rec.Status), rec.Amount.String(), string(blob),
	)
	if err != nil {
		return types.RewardRecord{}, false, fmt.Errorf("failed to reserve reward: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.RewardRecord{}, false, err
	}
	if n == 1 {
		return rec, true, nil
	}

	existing, found, err := s.GetReward(ctx, rec.ContributionID)
	if err != nil {
		return types.RewardRecord{}, false, err
	}
	if !found {
		return types.RewardRecord{}, false, fmt.Errorf("reward %s conflicted but is missing", rec.ContributionID)
	}
	return existing, false, nil
}

// MarkIssued finalizes a pending reservation and drops its quote.
func (s *RewardStore) MarkIssued(ctx context.Context, rec types.RewardRecord) error {
	rec.Status = types.RewardIssued
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin issuance: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE reward_records SET status = ?, amount = ?, epoch = ?, record = ?, issued_at = ?
		WHERE contribution_id = ? AND status = ?`),
		string(types.RewardIssued), rec.Amount.String(), int64(rec.Epoch), string(blob), rec.IssuedAt.UTC().Format(time.RFC3339Nano),
		rec.ContributionID.String(), string(types.RewardPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark reward issued: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// release the connection before reading outside the transaction
		_ = tx.Rollback()
		_, found, err := s.GetReward(ctx, rec.ContributionID)
		if err != nil {
			return err
		}
		if !found {
			return types.ErrNotFound.Wrapf("no reservation for %s", rec.ContributionID)
		}
		return types.ErrDoubleIssuanceAttempt.Wrapf("reward %s already issued", rec.ContributionID)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM reward_quotes WHERE contribution_id = ?`),
		rec.ContributionID.String()); err != nil {
		return fmt.Errorf("failed to drop reward quote: %w", err)
	}
	return tx.Commit()
}

// ReleaseReservation drops a pending reservation.
func (s *RewardStore) ReleaseReservation(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM reward_records WHERE contribution_id = ? AND status = ?`),
		id.String(), string(types.RewardPending))
	if err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		rec, found, err := s.GetReward(ctx, id)
		if err != nil {
			return err
		}
		if found && rec.Status == types.RewardIssued {
			return types.ErrDoubleIssuanceAttempt.Wrapf("refusing to release issued reward %s", id)
		}
	}
	return nil
}

// GetReward loads the record for a contribution.
func (s *RewardStore) GetReward(ctx context.Context, id uuid.UUID) (types.RewardRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT record FROM reward_records WHERE contribution_id = ?`), id.String())
	var blob string
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.RewardRecord{}, false, nil
		}
		return types.RewardRecord{}, false, err
	}
	var rec types.RewardRecord
	if err := json.Unmarshal([]byte(blob), &rec); err != nil {
		return types.RewardRecord{}, false, fmt.Errorf("failed to decode reward %s: %w", id, err)
	}
	return rec, true, nil
}

// RewardsByEpoch lists issued records of an epoch ordered by contribution id.
func (s *RewardStore) RewardsByEpoch(ctx context.Context, epoch uint64) ([]types.RewardRecord, error) {
	return s.list(ctx, `SELECT record FROM reward_records WHERE epoch = ? AND status = ? ORDER BY contribution_id`,
		int64(epoch), string(types.RewardIssued))
}

// PendingRewards lists reservations whose mint was never confirmed.
func (s *RewardStore) PendingRewards(ctx context.Context) ([]types.RewardRecord, error) {
	return s.list(ctx, `SELECT record FROM reward_records WHERE status = ? ORDER BY contribution_id`,
		string(types.RewardPending))
}

// IterateRewards visits every record until fn returns true.
func (s *RewardStore) IterateRewards(ctx context.Context, fn func(types.RewardRecord) bool) error {
	records, err := s.list(ctx, `SELECT record FROM reward_records ORDER BY contribution_id`)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if fn(rec) {
			break
		}
	}
	return nil
}

func (s *RewardStore) list(ctx context.Context, query string, args ...any) ([]types.RewardRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.RewardRecord
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var rec types.RewardRecord
		if err := json.Unmarshal([]byte(blob), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
