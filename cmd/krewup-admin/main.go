package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"krewup-messaging/internal/auth"
	"krewup-messaging/internal/config"
	"krewup-messaging/internal/logging"
	"krewup-messaging/internal/messaging"
	"krewup-messaging/internal/models"
	"krewup-messaging/internal/store"
	"krewup-messaging/internal/utils"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const usage = `usage: krewup-admin <command> [flags]

commands:
  migrate              apply the database schema
  token <user-id>      mint a development bearer token
  seed                 create fake profiles, conversations and messages
`

func main() {
	if len(os.Args) < 2 {
		_, _ = fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.LoadConfig(".env")
	logger := logging.New("console", os.Getenv("LOG_LEVEL"), os.Stderr)

	var err error
	switch os.Args[1] {
	case "migrate":
		err = migrate(cfg, logger)
	case "token":
		err = token(cfg, os.Args[2:])
	case "seed":
		err = seed(cfg, logger, os.Args[2:])
	default:
		_, _ = fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error().Err(err).Str("command", os.Args[1]).Msg("command failed")
		os.Exit(1)
	}
}

func migrate(cfg *config.AppConfig, logger zerolog.Logger) error {
	ctx := context.Background()
	if cfg.StoreDriver == "sqlite" {
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("sqlite schema up to date")
		return db.Close()
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return store.MigratePostgres(ctx, pool)
}

func token(cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	ttl := fs.Duration("ttl", cfg.TokenMaxAge, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("token: expected exactly one user id")
	}
	userID, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("token: invalid user id: %w", err)
	}
	signed, err := utils.GenerateJWT(cfg.JWTSecret, userID, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}

type seedStores struct {
	users         store.UserStore
	conversations store.ConversationStore
	messages      store.MessageStore
}

func seed(cfg *config.AppConfig, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	users := fs.Int("users", 8, "profiles to create")
	conversations := fs.Int("conversations", 12, "conversations to start")
	perConversation := fs.Int("messages", 6, "messages per conversation")
	seedValue := fs.Int64("seed", time.Now().UnixNano(), "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *users < 2 {
		return fmt.Errorf("seed: need at least two users")
	}

	ctx := context.Background()
	st, closeFn, err := openSeedStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	faker := gofakeit.New(*seedValue)
	svc := messaging.NewService(st.users, st.conversations, st.messages, messaging.Options{Logger: logger})

	ids := make([]uuid.UUID, 0, *users)
	for i := 0; i < *users; i++ {
		now := time.Now()
		first, last := faker.FirstName(), faker.LastName()
		u := &models.User{
			ID:        uuid.New(),
			FirstName: first,
			LastName:  last,
			Email:     strings.ToLower(fmt.Sprintf("%s.%s.%d@example.com", first, last, faker.Number(100, 999))),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.users.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("seed user: %w", err)
		}
		ids = append(ids, u.ID)
	}

	created := 0
	for attempts := 0; created < *conversations && attempts < *conversations*4; attempts++ {
		a, b := ids[faker.Number(0, len(ids)-1)], ids[faker.Number(0, len(ids)-1)]
		if a == b {
			continue
		}
		conv, isNew, err := svc.GetOrCreateConversation(auth.WithViewer(ctx, a), b)
		if err != nil {
			return fmt.Errorf("seed conversation: %w", err)
		}
		if !isNew {
			continue
		}
		created++
		for j := 0; j < *perConversation; j++ {
			sender := a
			if faker.Bool() {
				sender = b
			}
			if _, err := svc.SendMessage(auth.WithViewer(ctx, sender), conv.ID, faker.Sentence(faker.Number(3, 14))); err != nil {
				return fmt.Errorf("seed message: %w", err)
			}
		}
	}

	logger.Info().Int("users", len(ids)).Int("conversations", created).Msg("seed complete")
	signed, err := utils.GenerateJWT(cfg.JWTSecret, ids[0], cfg.TokenMaxAge)
	if err != nil {
		return err
	}
	fmt.Printf("user %s\ntoken %s\n", ids[0], signed)
	return nil
}

func openSeedStores(ctx context.Context, cfg *config.AppConfig) (*seedStores, func(), error) {
	if cfg.StoreDriver == "sqlite" {
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return &seedStores{users: db, conversations: db, messages: db}, func() { db.Close() }, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return &seedStores{
		users:         store.NewPostgresUserStore(pool),
		conversations: store.NewPostgresConversationStore(pool),
		messages:      store.NewPostgresMessageStore(pool),
	}, pool.Close, nil
}
