// ABOUTME: CLI for managing authorized client keys
// ABOUTME: Generates Ed25519 keypairs and registers, lists, revokes, or deletes them

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/veilchat/veil-gateway/internal/config"
	"github.com/veilchat/veil-gateway/internal/keys"
	"github.com/veilchat/veil-gateway/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: veil-keygen <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  generate [-n N] [-expiry DUR]")
		fmt.Println("                        Generate and register N keypairs (default 1),")
		fmt.Println("                        valid for DUR (default from config, 168h)")
		fmt.Println("  list                  List registered keys")
		fmt.Println("  revoke <public-key>   Deactivate a key (kept for audit)")
		fmt.Println("  delete <public-key>   Remove a key and its sessions")
		os.Exit(1)
	}

	// .env is optional; it carries VEIL_DB_PATH and VEIL_CONFIG in dev setups.
	_ = godotenv.Load()

	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "generate":
		err = runGenerate(ctx, os.Args[2:])
	case "list":
		err = runList(ctx)
	case "revoke":
		err = runRevoke(ctx, os.Args[2:])
	case "delete":
		err = runDelete(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStore resolves the database path and key lifetime, preferring the
// gateway config file and falling back to environment variables.
func openStore() (*store.SQLiteStore, time.Duration, error) {
	dbPath := os.Getenv("VEIL_DB_PATH")
	lifetime := config.DefaultKeyLifetime

	configPath := os.Getenv("VEIL_CONFIG")
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, 0, fmt.Errorf("loading config: %w", err)
		}
		if dbPath == "" {
			dbPath = cfg.Database.Path
		}
		lifetime = cfg.Auth.KeyLifetime
	}

	if dbPath == "" {
		return nil, 0, errors.New("no database path: set VEIL_DB_PATH or VEIL_CONFIG")
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, 0, fmt.Errorf("opening database: %w", err)
	}
	return s, lifetime, nil
}

func runGenerate(ctx context.Context, args []string) error {
	count := 1
	var expiry time.Duration
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-n", "--count":
			if i+1 >= len(args) {
				return errors.New("-n requires a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid count %q", args[i+1])
			}
			count = n
			i++
		case "-expiry", "--expiry":
			if i+1 >= len(args) {
				return errors.New("-expiry requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid expiry %q", args[i+1])
			}
			expiry = d
			i++
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	s, lifetime, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if expiry != 0 {
		lifetime = expiry
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	now := time.Now().UTC()
	expiresAt := now.Add(lifetime)

	for i := 0; i < count; i++ {
		priv, pub, err := keys.GenerateKeypair()
		if err != nil {
			return fmt.Errorf("generating keypair: %w", err)
		}

		err = s.CreateAuthorizedKey(ctx, &store.AuthorizedKey{
			PublicKey: pub,
			CreatedAt: now,
			ExpiresAt: expiresAt,
			IsActive:  true,
		})
		if err != nil {
			return fmt.Errorf("registering key: %w", err)
		}

		green.Printf("  ✓ Key %d of %d registered (expires %s)\n", i+1, count, expiresAt.Format("Jan 02, 2006 15:04 MST"))
		cyan.Print("    public:  ")
		fmt.Println(pub)
		cyan.Print("    private: ")
		fmt.Println(priv)
	}

	fmt.Println()
	yellow.Println("  The private key is shown once and never stored. Hand it to the client now.")
	return nil
}

func runList(ctx context.Context) error {
	s, _, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	all, err := s.ListAuthorizedKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}

	if len(all) == 0 {
		fmt.Println("No keys registered.")
		return nil
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	now := time.Now().UTC()
	for _, k := range all {
		switch {
		case !k.IsActive:
			red.Print("  revoked  ")
		case k.Expired(now):
			yellow.Print("  expired  ")
		default:
			green.Print("  active   ")
		}

		fmt.Print(k.PublicKey)
		gray.Printf("  expires %s", k.ExpiresAt.Format("2006-01-02"))
		if k.LastUsedAt != nil {
			gray.Printf("  last used %s", k.LastUsedAt.Format("2006-01-02 15:04"))
		} else {
			gray.Print("  never used")
		}
		fmt.Println()
	}

	return nil
}

func runRevoke(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: veil-keygen revoke <public-key>")
	}

	s, _, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.RevokeAuthorizedKey(ctx, args[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errors.New("key not found")
		}
		return fmt.Errorf("revoking key: %w", err)
	}

	color.New(color.FgGreen).Println("  ✓ Key revoked")
	return nil
}

func runDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: veil-keygen delete <public-key>")
	}

	s, _, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.DeleteAuthorizedKey(ctx, args[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errors.New("key not found")
		}
		return fmt.Errorf("deleting key: %w", err)
	}

	color.New(color.FgGreen).Println("  ✓ Key and its sessions deleted")
	return nil
}
