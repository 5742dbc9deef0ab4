package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aigensolutions/billingcore/pkg/pg"
)

const (
	sqlEnsureBalance = `
		insert into balances (user_id, amount) values ($1, 0)
		on conflict (user_id) do nothing
	`

	sqlSelectBalance = `
		select amount from balances where user_id = $1
	`

	sqlSelectBalanceForUpdate = `
		select amount from balances where user_id = $1 for update
	`

	sqlUpdateBalance = `
		update balances set amount = $2, updated_at = now() where user_id = $1
	`

	sqlInsertTransaction = `
		insert into transactions (
			id, user_id, amount, kind, reference_id, description,
			monetary_amount_cents, monetary_currency, created_at
		)
		values ($1, $2, $3, $4, nullif($5, ''), $6, $7, nullif($8, ''), $9)
	`

	sqlListTransactions = `
		select id, user_id, amount, kind, coalesce(reference_id, ''), description,
			monetary_amount_cents, coalesce(monetary_currency, ''), created_at
		from transactions
		where user_id = $1
		order by created_at desc, id desc
		offset $2 limit $3
	`

	sqlCountTransactions = `
		select count(*) from transactions where user_id = $1
	`
)

// PgStore implements Store on a shared pgx pool. Queries resolve their
// querier through pg.Querier, so calls made inside pg.RunInTx join that
// transaction.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by the given pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return pg.RunInTx(ctx, s.pool, fn)
}

func (s *PgStore) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	db := pg.Querier(ctx, s.pool)
	if _, err := db.Exec(ctx, sqlEnsureBalance, userID); err != nil {
		return decimal.Zero, fmt.Errorf("ensure balance: %w", err)
	}
	var amount decimal.Decimal
	if err := db.QueryRow(ctx, sqlSelectBalance, userID).Scan(&amount); err != nil {
		return decimal.Zero, fmt.Errorf("select balance: %w", err)
	}
	return amount, nil
}

func (s *PgStore) GetBalanceForUpdate(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	db := pg.Querier(ctx, s.pool)
	if _, err := db.Exec(ctx, sqlEnsureBalance, userID); err != nil {
		return decimal.Zero, fmt.Errorf("ensure balance: %w", err)
	}
	var amount decimal.Decimal
	if err := db.QueryRow(ctx, sqlSelectBalanceForUpdate, userID).Scan(&amount); err != nil {
		return decimal.Zero, fmt.Errorf("lock balance: %w", err)
	}
	return amount, nil
}

func (s *PgStore) SetBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	db := pg.Querier(ctx, s.pool)
	tag, err := db.Exec(ctx, sqlUpdateBalance, userID, amount)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update balance: no row for user %s", userID)
	}
	return nil
}

func (s *PgStore) InsertTransaction(ctx context.Context, tx *Transaction) error {
	db := pg.Querier(ctx, s.pool)

	var monetaryCents *int64
	currency := ""
	if tx.Monetary != nil {
		monetaryCents = &tx.Monetary.AmountCents
		currency = tx.Monetary.Currency
	}

	_, err := db.Exec(ctx, sqlInsertTransaction,
		tx.ID, tx.UserID, tx.Amount, string(tx.Kind), tx.ReferenceID,
		tx.Description, monetaryCents, currency, tx.CreatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return ErrDuplicateReference
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *PgStore) ListTransactions(ctx context.Context, userID uuid.UUID, skip, limit int) ([]Transaction, int64, error) {
	db := pg.Querier(ctx, s.pool)

	var total int64
	if err := db.QueryRow(ctx, sqlCountTransactions, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	rows, err := db.Query(ctx, sqlListTransactions, userID, skip, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	items := make([]Transaction, 0, limit)
	for rows.Next() {
		var (
			tx            Transaction
			kind          string
			monetaryCents *int64
			currency      string
		)
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Amount, &kind, &tx.ReferenceID,
			&tx.Description, &monetaryCents, &currency, &tx.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Kind = TransactionKind(kind)
		if monetaryCents != nil {
			tx.Monetary = &Money{AmountCents: *monetaryCents, Currency: currency}
		}
		items = append(items, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return items, total, nil
}
