package bootstrap

import (
	"context"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/audit/audittest"
	"github.com/commonwealth-builders/treasury/internal/auth"
	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/roles"
	"github.com/commonwealth-builders/treasury/internal/users"
)

// DryRun applies seed against empty in-memory stores. It validates a seed
// file without touching PostgreSQL.
func DryRun(ctx context.Context, seed Seed, logger *slog.Logger) (Result, error) {
	userStore := users.NewMemoryStore()
	roleStore := roles.NewMemoryStore()
	auditStore := audittest.NewStore()
	auditStore.Known = func(id int64) bool {
		_, err := userStore.FindByID(context.Background(), id)
		return err == nil
	}
	tx := db.NewMemoryTransactor(userStore, roleStore, auditStore)
	recorder := audit.NewLogger(auditStore, logger)

	catalog := roles.NewService(roleStore, tx, recorder, logger)
	ledger := roles.NewLedger(roleStore, userStore, tx, recorder, logger)
	registrar := auth.NewService(userStore, catalog, ledger, nil, tx, recorder, logger).WithHashCost(bcrypt.MinCost)
	return NewSeeder(catalog, registrar, userStore, logger).Run(ctx, seed)
}
