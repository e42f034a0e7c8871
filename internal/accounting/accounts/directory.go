package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-finance/internal/platform/db"
	"github.com/odyssey-erp/odyssey-finance/internal/shared"
)

// ErrCounterpartyNotFound indicates the linked master data does not exist.
var ErrCounterpartyNotFound = shared.NewValidation("accounts: counterparty not found")

// Directory looks up counterparty and product master data.
type Directory interface {
	Lookup(ctx context.Context, kind EntityKind, id int64) (Counterparty, error)
}

type pgDirectory struct {
	db *pgxpool.Pool
}

// NewDirectory reads customers, suppliers and products tables.
func NewDirectory(db *pgxpool.Pool) Directory {
	return &pgDirectory{db: db}
}

var directoryTables = map[EntityKind]string{
	EntityCustomer: "customers",
	EntitySupplier: "suppliers",
	EntityProduct:  "products",
}

func (d *pgDirectory) Lookup(ctx context.Context, kind EntityKind, id int64) (Counterparty, error) {
	table, ok := directoryTables[kind]
	if !ok {
		return Counterparty{}, fmt.Errorf("accounts: unknown entity kind %q", kind)
	}
	party := Counterparty{ID: id, Kind: kind}
	err := db.Conn(ctx, d.db).QueryRow(ctx, fmt.Sprintf(`SELECT code, name FROM %s WHERE id=$1`, table), id).
		Scan(&party.Code, &party.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Counterparty{}, fmt.Errorf("%w: %s %d", ErrCounterpartyNotFound, kind, id)
		}
		return Counterparty{}, err
	}
	return party, nil
}
