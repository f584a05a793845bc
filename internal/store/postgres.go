package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

// PostgresStore implements Store using PostgreSQL.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpsertAgreement(ctx context.Context, a *model.Agreement) error {
	var published *time.Time
	if !a.PublishTimestamp.IsZero() {
		published = &a.PublishTimestamp
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agreements (id, manager, base_coin, target_return_rate, max_collateral_rate,
		                         collat_amount, free_collat_amount, committed_capital,
		                         open_period_ns, active_period_ns, publish_timestamp, status, closed,
		                         settled_capital, collateral_drawn, manager_withdrawn, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12, $13,
		         $14::NUMERIC, $15::NUMERIC, $16::NUMERIC, $17)
		 ON CONFLICT (id) DO UPDATE SET
		     collat_amount = EXCLUDED.collat_amount,
		     free_collat_amount = EXCLUDED.free_collat_amount,
		     committed_capital = EXCLUDED.committed_capital,
		     publish_timestamp = EXCLUDED.publish_timestamp,
		     status = EXCLUDED.status,
		     closed = EXCLUDED.closed,
		     settled_capital = EXCLUDED.settled_capital,
		     collateral_drawn = EXCLUDED.collateral_drawn,
		     manager_withdrawn = EXCLUDED.manager_withdrawn`,
		int64(a.ID), a.Manager, a.BaseCoin,
		int32(a.TargetReturnRate), int32(a.MaxCollateralRateIfAvailable),
		a.CollatAmount.String(), a.FreeCollatAmount.String(), a.CommittedCapital.String(),
		int64(a.OpenPeriod), int64(a.ActivePeriod), published, a.Status.String(), a.Closed,
		a.SettledCapital.String(), a.CollateralDrawn.String(), a.ManagerWithdrawn.String(),
		a.CreatedAt,
	)
	return err
}

const agreementColumns = `id, manager, base_coin, target_return_rate, max_collateral_rate,
	collat_amount::TEXT, free_collat_amount::TEXT, committed_capital::TEXT,
	open_period_ns, active_period_ns, publish_timestamp, status, closed,
	settled_capital::TEXT, collateral_drawn::TEXT, manager_withdrawn::TEXT, created_at`

func (s *PostgresStore) GetAgreement(ctx context.Context, id uint64) (*model.Agreement, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1`, int64(id))
	a, err := scanAgreement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agreement %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agreement %d: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `SELECT id FROM mandates WHERE agreement_id = $1 ORDER BY id`, int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var mid int64
		if err := rows.Scan(&mid); err != nil {
			return nil, err
		}
		a.MandateIDs = append(a.MandateIDs, uint64(mid))
	}
	return a, rows.Err()
}

func (s *PostgresStore) ListAgreements(ctx context.Context) ([]model.Agreement, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agreementColumns+` FROM agreements ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertMandate(ctx context.Context, m *model.Mandate) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mandates (id, agreement_id, investor, capital_amount, allocated_collateral,
		                       min_collat_rate, settled, payout, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8::NUMERIC, $9)
		 ON CONFLICT (id) DO UPDATE SET
		     settled = EXCLUDED.settled,
		     payout = EXCLUDED.payout`,
		int64(m.ID), int64(m.AgreementID), m.Investor,
		m.CapitalAmount.String(), m.AllocatedCollateral.String(),
		int32(m.MinCollatRateRequirement), m.Settled, m.Payout.String(), m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListMandatesByAgreement(ctx context.Context, agreementID uint64) ([]model.Mandate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agreement_id, investor, capital_amount::TEXT, allocated_collateral::TEXT,
		        min_collat_rate, settled, payout::TEXT, created_at
		 FROM mandates WHERE agreement_id = $1 ORDER BY id`, int64(agreementID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Mandate
	for rows.Next() {
		var m model.Mandate
		var id, aid int64
		var rate int32
		var capitalS, allocatedS, payoutS string
		if err := rows.Scan(&id, &aid, &m.Investor, &capitalS, &allocatedS,
			&rate, &m.Settled, &payoutS, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ID, m.AgreementID = uint64(id), uint64(aid)
		m.MinCollatRateRequirement = uint32(rate)
		m.CapitalAmount, _ = decimal.NewFromString(capitalS)
		m.AllocatedCollateral, _ = decimal.NewFromString(allocatedS)
		m.Payout, _ = decimal.NewFromString(payoutS)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertEvent(ctx context.Context, rec *model.EventRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, type, agreement_id, caller, payload, timestamp)
		 VALUES ($1, $2, $3, $4, $5::JSONB, $6)`,
		rec.ID, rec.Type, int64(rec.AgreementID), rec.Caller, string(rec.Payload), rec.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListEventsByAgreement(ctx context.Context, agreementID uint64) ([]model.EventRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, type, agreement_id, caller, payload::TEXT, timestamp
		 FROM events WHERE agreement_id = $1 ORDER BY seq`, int64(agreementID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		var e model.EventRecord
		var aid int64
		var payload string
		if err := rows.Scan(&e.ID, &e.Type, &aid, &e.Caller, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.AgreementID = uint64(aid)
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// scanAgreement reads one agreement row; row is a pgx.Row or pgx.Rows.
func scanAgreement(row pgx.Row) (*model.Agreement, error) {
	var a model.Agreement
	var id, openNs, activeNs int64
	var rate, maxRate int32
	var published *time.Time
	var status string
	var collatS, freeS, committedS, settledS, drawnS, withdrawnS string

	if err := row.Scan(&id, &a.Manager, &a.BaseCoin, &rate, &maxRate,
		&collatS, &freeS, &committedS,
		&openNs, &activeNs, &published, &status, &a.Closed,
		&settledS, &drawnS, &withdrawnS, &a.CreatedAt); err != nil {
		return nil, err
	}

	a.ID = uint64(id)
	a.TargetReturnRate = uint32(rate)
	a.MaxCollateralRateIfAvailable = uint32(maxRate)
	a.OpenPeriod = time.Duration(openNs)
	a.ActivePeriod = time.Duration(activeNs)
	if published != nil {
		a.PublishTimestamp = published.UTC()
	}
	if err := a.Status.UnmarshalText([]byte(status)); err != nil {
		return nil, err
	}
	a.CollatAmount, _ = decimal.NewFromString(collatS)
	a.FreeCollatAmount, _ = decimal.NewFromString(freeS)
	a.CommittedCapital, _ = decimal.NewFromString(committedS)
	a.SettledCapital, _ = decimal.NewFromString(settledS)
	a.CollateralDrawn, _ = decimal.NewFromString(drawnS)
	a.ManagerWithdrawn, _ = decimal.NewFromString(withdrawnS)
	return &a, nil
}
