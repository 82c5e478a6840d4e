package cli

import (
	"context"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"loandesk/internal/catalog"
	"loandesk/internal/config"
	"loandesk/internal/journal"
	"loandesk/internal/loan"
	"loandesk/internal/membership"
	"loandesk/internal/storage/postgres"
)

// app is the wired set of services shared by the commands.
type app struct {
	db      *sqlx.DB
	journal *journal.Journal
	catalog catalog.Service
	members membership.Service
	loans   loan.Service
	tokens  *membership.TokenIssuer
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	policy, err := cfg.Policy.Build()
	if err != nil {
		db.Close()
		return nil, err
	}

	j := journal.New(db)
	books := catalog.NewService(db)
	members := membership.NewService(db, cfg.AuthRate(), cfg.AuthRateBurst)
	loans := loan.NewService(postgres.NewLoanStore(db), books, members,
		loan.WithClock(loan.SystemClock{Location: cfg.Location()}),
		loan.WithPolicy(policy),
		loan.WithLogger(logger),
		loan.WithRecorder(j),
	)

	return &app{
		db:      db,
		journal: j,
		catalog: books,
		members: members,
		loans:   loans,
		tokens:  membership.NewTokenIssuer(cfg.JWTSecret, cfg.TokenLifetime()),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
