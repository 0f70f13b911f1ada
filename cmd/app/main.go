// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"codeberg.org/oliverandrich/taxijobs/internal/config"
	"codeberg.org/oliverandrich/taxijobs/internal/database"
	"codeberg.org/oliverandrich/taxijobs/internal/identity/local"
	"codeberg.org/oliverandrich/taxijobs/internal/repository"
	"codeberg.org/oliverandrich/taxijobs/internal/server"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// A missing .env is fine; real environment variables take precedence.
	_ = godotenv.Load()

	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "taxijobs",
		Usage:   "Taxi job board web application",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags:   config.Flags(),
		Action:  server.Run,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the web server",
				Action: server.Run,
			},
			migrateCommand(),
			userCommand(),
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the schema of the local identity store",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: withSchema(func(_ context.Context, _ *cli.Command, db *sqlx.DB) error {
					return database.RunMigrations(db.DB)
				}),
			},
			{
				Name:  "down",
				Usage: "Roll back the last migration",
				Action: withSchema(func(_ context.Context, _ *cli.Command, db *sqlx.DB) error {
					return database.MigrateDown(db.DB)
				}),
			},
			{
				Name:  "reset",
				Usage: "Roll back all migrations",
				Action: withSchema(func(_ context.Context, _ *cli.Command, db *sqlx.DB) error {
					return database.MigrateReset(db.DB)
				}),
			},
			{
				Name:  "status",
				Usage: "Print the applied migration version",
				Action: withSchema(func(_ context.Context, cmd *cli.Command, db *sqlx.DB) error {
					version, err := database.MigrationVersion(db.DB)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(cmd.Root().Writer, "migration version: %d\n", version)
					return err
				}),
			},
		},
	}
}

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage accounts of the local identity backend",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create an account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "Account email", Required: true},
					&cli.StringFlag{Name: "password", Usage: "Account password", Required: true},
				},
				Action: withDB(func(ctx context.Context, cmd *cli.Command, db *sqlx.DB) error {
					cfg := config.NewFromCLI(cmd)
					svc := local.New(repository.New(db), nil, local.Options{
						SessionTTL:    cfg.Identity.SessionTTL,
						RecoveryTTL:   cfg.Identity.RecoveryTTL,
						ResetCooldown: cfg.Identity.ResetCooldown,
					})
					user, err := svc.CreateUser(ctx, cmd.String("email"), cmd.String("password"))
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(cmd.Root().Writer, "created user %d (%s)\n", user.ID, user.Email)
					return err
				}),
			},
		},
	}
}

// withDB opens the migrated local identity store for the duration of fn.
func withDB(fn func(context.Context, *cli.Command, *sqlx.DB) error) cli.ActionFunc {
	return openWith(database.Open, fn)
}

// withSchema opens the local identity store without applying migrations, so
// the migrate commands see the schema as it is.
func withSchema(fn func(context.Context, *cli.Command, *sqlx.DB) error) cli.ActionFunc {
	return openWith(database.OpenWithoutMigrations, fn)
}

func openWith(open func(string) (*sqlx.DB, error), fn func(context.Context, *cli.Command, *sqlx.DB) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg := config.NewFromCLI(cmd)
		if cfg.Identity.Backend != config.BackendLocal {
			return errors.New("this command requires --identity-backend=local")
		}

		db, err := open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		return fn(ctx, cmd, db)
	}
}
