// cmd/seedadmin creates the root node and an admin user, or resets the
// password of an existing admin.
// Usage: go run ./cmd/seedadmin -login admin -password '...'
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/config"
	"github.com/stustapay/stustapay-sub000/internal/infra"
	"github.com/stustapay/stustapay-sub000/internal/repository"
	"github.com/stustapay/stustapay-sub000/internal/service"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	login := flag.String("login", "admin", "admin login")
	password := flag.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password (or ADMIN_PASSWORD)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	user, err := service.BootstrapAdmin(ctx, repository.NewStore(db), *login, *password)
	if err != nil {
		log.Fatal().Err(err).Msg("seed failed")
	}
	log.Info().Int64("user_id", user.ID).Int64("node_id", user.NodeID).Str("login", user.Login).Msg("admin user ready")
}
