// Command createuser registers an account and prints its generated password.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"fcshare/internal/server/config"
	"fcshare/internal/server/database"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	passwordLength   = 16
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: createuser <email>")
		os.Exit(2)
	}
	email := os.Args[1]

	if err := run(context.Background(), email); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, email string) error {
	cfg := config.Load()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	password, err := gonanoid.Generate(passwordAlphabet, passwordLength)
	if err != nil {
		return fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user, err := database.NewUserRepository(db.SQL).Create(ctx, email, string(hash))
	if errors.Is(err, database.ErrUniqueViolation) {
		return fmt.Errorf("user %q already exists", email)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("✓ Created user %d\n", user.ID)
	fmt.Printf("  email:    %s\n", user.Email)
	fmt.Printf("  password: %s\n", password)
	return nil
}
