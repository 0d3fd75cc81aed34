// Package chat parses chat command flags and composes the server entrypoint.
package chat

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/duochat/duochat/internal/platform/cmd"
	server "github.com/duochat/duochat/internal/services/chat/app"
	"github.com/duochat/duochat/internal/services/chat/credentials"
)

// Config holds chat command configuration.
type Config struct {
	HTTPAddr    string        `env:"DUOCHAT_HTTP_ADDR"    envDefault:":8087"`
	StoragePath string        `env:"DUOCHAT_STORAGE_PATH" envDefault:"duochat.db"`
	TokenSecret string        `env:"DUOCHAT_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"DUOCHAT_TOKEN_TTL"    envDefault:"24h"`
	SeedUsers   string        `env:"DUOCHAT_SEED_USERS"   envDefault:"Gauri:18072007,Btye:18042004"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "chat HTTP listen address")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "sqlite database path")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "session token signing secret (empty disables tokens)")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "session token lifetime")
	fs.StringVar(&cfg.SeedUsers, "seed-users", cfg.SeedUsers, "seed participants as name:password pairs, comma separated")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseSeedUsers splits a "name:password,name:password" list.
func ParseSeedUsers(value string) ([]credentials.SeedUser, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	var seeds []credentials.SeedUser
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, password, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || password == "" {
			return nil, fmt.Errorf("invalid seed user entry %q", entry)
		}
		seeds = append(seeds, credentials.SeedUser{Username: name, Password: password})
	}
	return seeds, nil
}

// Run builds the chat app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	seeds, err := ParseSeedUsers(cfg.SeedUsers)
	if err != nil {
		return fmt.Errorf("parse seed users: %w", err)
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceChat, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:    cfg.HTTPAddr,
			StoragePath: cfg.StoragePath,
			TokenSecret: cfg.TokenSecret,
			TokenTTL:    cfg.TokenTTL,
			SeedUsers:   seeds,
		}); err != nil {
			return fmt.Errorf("serve chat: %w", err)
		}
		return nil
	})
}
