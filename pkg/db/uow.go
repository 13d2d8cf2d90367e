package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/siteforge-ops/siteforge-backend/pkg/interfaces"
)

type UOW struct {
	Pool *pgxpool.Pool
	tx   pgx.Tx
}

var _ interfaces.UoW = (*UOW)(nil)

func (u *UOW) Begin() (pgx.Tx, error) {
	tx, err := u.Pool.BeginTx(context.Background(), pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("can't begin tx, %v", err)
	}
	u.tx = tx
	return u.tx, nil
}

func (u *UOW) GetTx() pgx.Tx {
	return u.tx
}

func (u *UOW) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction is not started yet")
	}
	return u.tx.Commit(context.Background())
}

func (u *UOW) Rollback() error {
	if u.tx == nil {
		return fmt.Errorf("transaction is not started yet")
	}
	return u.tx.Rollback(context.Background())
}

type UOWFactory struct {
	Pool *pgxpool.Pool
}

func (u *UOWFactory) GetUoW() *UOW {
	return &UOW{
		Pool: u.Pool,
	}
}

func NewUoWFactory(pool *pgxpool.Pool) *UOWFactory {
	return &UOWFactory{
		Pool: pool,
	}
}
