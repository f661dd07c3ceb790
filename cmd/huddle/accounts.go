// ABOUTME: Account administration subcommands
// ABOUTME: Creates users directly in the database and mints access tokens

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/config"
	"github.com/2389/huddle/internal/store"
)

const defaultCLITokenTTL = 30 * 24 * time.Hour

// parseFlags reads "--name value" and "--name=value" pairs. Only the
// names listed in allowed are accepted.
func parseFlags(args []string, allowed ...string) (map[string]string, error) {
	known := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		known[name] = true
	}

	values := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !known[name] {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		values[name] = value
	}
	return values, nil
}

func openStore() (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	dbPath := cfg.Database.Path
	if envPath := os.Getenv("HUDDLE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, s, nil
}

func runUser(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "add" {
		return errors.New("usage: huddle user add --username U --email E [--password P]")
	}

	flags, err := parseFlags(args[1:], "username", "email", "password")
	if err != nil {
		return err
	}

	username := strings.TrimSpace(flags["username"])
	email := strings.TrimSpace(flags["email"])
	if username == "" {
		return errors.New("--username flag is required")
	}
	if email == "" || !strings.Contains(email, "@") {
		return errors.New("--email must be a valid address")
	}

	password := flags["password"]
	generated := password == ""
	if generated {
		password, err = generateSecret()
		if err != nil {
			return fmt.Errorf("generating password: %w", err)
		}
		password = password[:20]
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	user := &store.User{
		ID:           store.NewID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return fmt.Errorf("a user with email %s already exists", email)
		}
		return fmt.Errorf("creating user: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	green.Print("✓ ")
	fmt.Printf("Created user ")
	cyan.Println(username)
	fmt.Printf("  id:    %s\n", user.ID)
	fmt.Printf("  email: %s\n", strings.ToLower(email))
	if generated {
		yellow := color.New(color.FgYellow)
		yellow.Print("  password: ")
		fmt.Println(password)
	}
	return nil
}

func runToken(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "user", "ttl")
	if err != nil {
		return err
	}
	userID := flags["user"]
	if !store.ValidID(userID) {
		return errors.New("--user must be a user id")
	}

	ttl := defaultCLITokenTTL
	if raw, ok := flags["ttl"]; ok {
		ttl, err = time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("invalid --ttl %q", raw)
		}
	}

	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no user with id %s", userID)
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating verifier: %w", err)
	}
	token, err := verifier.Generate(userID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}
