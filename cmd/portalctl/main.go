// Command portalctl is the operator tool for the portal database.
//
//	portalctl [-config FILE] migrate up|down|status
//	portalctl [-config FILE] grant-admin EMAIL
//	portalctl [-config FILE] notify EMAIL MESSAGE
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/auth"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/authstate"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/config"
	sqliteRepo "github.com/stazh-ux/lavendel-ask-resolve/internal/repository/sqlite"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/service"
)

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "YAML config file")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := run(ctx, cfg, logger, args); err != nil {
		cancel()
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	switch args[0] {
	case "migrate":
		if len(args) != 2 {
			return fmt.Errorf("usage: portalctl migrate up|down|status")
		}
		return migrate(ctx, cfg, args[1])

	case "grant-admin":
		if len(args) != 2 {
			return fmt.Errorf("usage: portalctl grant-admin EMAIL")
		}
		return grantAdmin(ctx, cfg, logger, args[1])

	case "notify":
		if len(args) < 3 {
			return fmt.Errorf("usage: portalctl notify EMAIL MESSAGE")
		}
		return notifyUser(ctx, cfg, logger, args[1], strings.Join(args[2:], " "))

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// migrate opens the database without the automatic "up" New performs, so
// "down" and "status" see the schema as it is.
func migrate(ctx context.Context, cfg *config.Config, command string) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sqliteRepo.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetLogger(log.New(os.Stdout, "", 0))
	if err := sqliteRepo.RunMigrations(ctx, db.Conn(), command); err != nil {
		return err
	}
	if command != "status" {
		fmt.Printf("migrate %s: done\n", command)
	}
	return nil
}

func grantAdmin(ctx context.Context, cfg *config.Config, logger *slog.Logger, email string) error {
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	authService, err := newAuthService(db, cfg, logger)
	if err != nil {
		return err
	}

	profile, err := authService.GrantAdmin(ctx, email)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s <%s> is now an admin\n", profile.FirstName, profile.LastName, profile.Email)
	return nil
}

func notifyUser(ctx context.Context, cfg *config.Config, logger *slog.Logger, email, message string) error {
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := service.NewNotificationService(db, db, logger).NotifyEmail(ctx, email, message)
	if err != nil {
		return err
	}
	fmt.Printf("notification %s sent to %s\n", n.ID, email)
	return nil
}

// newAuthService builds the service offline. Revocations are irrelevant
// here, so the in-memory list is enough.
func newAuthService(db *sqliteRepo.DB, cfg *config.Config, logger *slog.Logger) (*service.AuthService, error) {
	tokens, err := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.TTL)
	if err != nil {
		return nil, err
	}
	return service.NewAuthService(db, tokens, auth.NewPasswordService(0),
		auth.NewMemoryDenylist(), authstate.NewBroker(logger), logger), nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: portalctl [-config FILE] COMMAND

Commands:
  migrate up        apply all pending migrations
  migrate down      roll back the latest migration
  migrate status    print migration status
  grant-admin EMAIL give the account the admin role
  notify EMAIL MSG  add a notification for the account

Flags:
`)
	flag.PrintDefaults()
}
