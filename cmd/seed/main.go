// Package main provides fixture seeding for Herald.
//
// It loads a YAML fixture file of users and their channel preferences
// and inserts them idempotently: existing accounts are skipped, so the
// command can run repeatedly against the same database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"go.uber.org/zap"

	"heraldapp.io/herald/internal/config"
	"heraldapp.io/herald/internal/infrastructure"
	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/pkg/logger"
	"heraldapp.io/herald/internal/queue"
	"heraldapp.io/herald/internal/store"
)

const passwordHashCost = 12

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

// fixtureUser is one seeded account. Preferences maps channel name to
// the opt-in flag; channels left out keep the default-enabled rule.
type fixtureUser struct {
	Email       string          `yaml:"email"`
	Name        string          `yaml:"name"`
	Password    string          `yaml:"password"`
	Verified    bool            `yaml:"verified"`
	Preferences map[string]bool `yaml:"preferences"`
}

type fixtures struct {
	Users []fixtureUser `yaml:"users"`
}

func run() error {
	file := flag.String("file", "seed.yaml", "fixture file to load")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	fx, err := loadFixtures(*file)
	if err != nil {
		return err
	}

	ctx := context.Background()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	logger.Info("Starting fixture seeding", zap.String("file", *file))

	users := store.NewPostgresUsers(db.Pool)
	prefs := store.NewPostgresPreferences(db.Pool)
	if err := seed(ctx, users, prefs, fx); err != nil {
		return err
	}

	logger.Info("Fixture seeding completed successfully")
	return nil
}

func loadFixtures(path string) (*fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture file: %w", err)
	}

	var fx fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture file: %w", err)
	}

	for i, u := range fx.Users {
		if u.Email == "" || u.Password == "" {
			return nil, fmt.Errorf("fixture user %d: email and password are required", i)
		}
	}
	return &fx, nil
}

// seed inserts each fixture user, skipping accounts whose email is
// already registered. Preferences are upserted even for skipped users
// so re-running the command converges on the fixture state.
func seed(ctx context.Context, users store.Users, prefs store.Preferences, fx *fixtures) error {
	for _, fu := range fx.Users {
		hash, err := bcrypt.GenerateFromPassword([]byte(fu.Password), passwordHashCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", fu.Email, err)
		}

		user, err := users.Create(ctx, fu.Email, fu.Name, string(hash))
		switch {
		case err == nil:
			logger.Info("Seeded user", zap.String("email", fu.Email))
		case isEmailTaken(err):
			logger.Info("User already exists, skipping", zap.String("email", fu.Email))
			user, err = users.GetByEmail(ctx, fu.Email)
			if err != nil {
				return fmt.Errorf("resolve existing user %s: %w", fu.Email, err)
			}
		default:
			return fmt.Errorf("create user %s: %w", fu.Email, err)
		}

		if fu.Verified && !user.Verified {
			if err := users.MarkVerified(ctx, user.ID); err != nil {
				return fmt.Errorf("mark %s verified: %w", fu.Email, err)
			}
		}

		for channel, enabled := range fu.Preferences {
			if err := prefs.Set(ctx, user.ID, queue.Channel(channel), enabled); err != nil {
				return fmt.Errorf("set %s preference for %s: %w", channel, fu.Email, err)
			}
		}
	}
	return nil
}

func isEmailTaken(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) && appErr.Code == "EMAIL_TAKEN"
}
