// Command tcgadmin runs operator tasks against the game database: granting
// credits, promoting admins, issuing tokens and loading the card pool.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fastprodman/tcgpacks/internal/api"
	"github.com/fastprodman/tcgpacks/internal/config"
	"github.com/fastprodman/tcgpacks/internal/infra/logging"
	"github.com/fastprodman/tcgpacks/internal/infra/pgutils"
	"github.com/fastprodman/tcgpacks/internal/repos/cards"
	pgusers "github.com/fastprodman/tcgpacks/internal/repos/users/postgres"
	"github.com/fastprodman/tcgpacks/internal/services/credits"
	"github.com/fastprodman/tcgpacks/internal/services/packs"
	"github.com/fastprodman/tcgpacks/pkg/envconf"
)

const usage = `usage: tcgadmin <command> [flags]

commands:
  token      -user ID [-email E] [-ttl 24h]   print a signed access token
  grant      -user ID -amount N [-reason R] [-key K]  add credits to a user
  set-admin  -user ID [-admin=false]          change a user's admin flag
  reconcile  -user ID                         compare balance with the log
  pool-stats                                  show unclaimed cards per rarity
  load-pool  -file cards.json                 add cards to the pool`

type dbConfig struct {
	LogLevel       slog.Level `env:"APP_LOG_LEVEL" default:"WARN"`
	PackConfigFile string     `env:"PACK_CONFIG_FILE" default:""`

	Postgres config.PostgresConfig
}

type poolCard struct {
	Name       string          `json:"name"`
	CardData   json.RawMessage `json:"card_data"`
	ImagePath  string          `json:"image_path"`
	Rarity     cards.Rarity    `json:"rarity"`
	SetName    string          `json:"set_name"`
	CardNumber string          `json:"card_number"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		//nolint:gocritic
		os.Exit(2)
	}

	err := run(ctx, os.Args[1], os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "tcgadmin %s: %v\n", os.Args[1], err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	err := envconf.LoadDotEnv()
	if err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	user := fs.String("user", "", "user id")

	switch cmd {
	case "token":
		email := fs.String("email", "", "email claim")
		ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")

		err = parse(fs, args, func() bool { return *user != "" })
		if err != nil {
			return err
		}

		var auth config.AuthConfig

		err = envconf.Load(&auth)
		if err != nil {
			return fmt.Errorf("init config: %w", err)
		}

		tok, err := api.IssueToken(auth, *user, *email, *ttl)
		if err != nil {
			return err
		}

		fmt.Println(tok)

		return nil
	case "grant":
		amount := fs.Int64("amount", 0, "credits to add")
		reason := fs.String("reason", "", "ledger description")
		key := fs.String("key", "", "idempotency key")

		err = parse(fs, args, func() bool { return *user != "" && *amount > 0 })
		if err != nil {
			return err
		}

		return withDB(ctx, func(db *sql.DB, _ dbConfig) error {
			err := pgusers.New(db).Exists(ctx, *user)
			if err != nil {
				return err
			}

			rcpt, err := credits.New(db).Grant(ctx, *user, *amount, *reason, *key)
			if err != nil {
				return err
			}

			return printJSON(rcpt)
		})
	case "set-admin":
		admin := fs.Bool("admin", true, "admin flag")

		err = parse(fs, args, func() bool { return *user != "" })
		if err != nil {
			return err
		}

		return withDB(ctx, func(db *sql.DB, _ dbConfig) error {
			return pgusers.New(db).SetAdmin(ctx, *user, *admin)
		})
	case "reconcile":
		err = parse(fs, args, func() bool { return *user != "" })
		if err != nil {
			return err
		}

		return withDB(ctx, func(db *sql.DB, _ dbConfig) error {
			rec, err := credits.New(db).Reconcile(ctx, *user)
			if err != nil && !errors.Is(err, credits.ErrBalanceMismatch) {
				return err
			}

			// a mismatch still prints the figures, then fails the command
			return errors.Join(printJSON(rec), err)
		})
	case "pool-stats":
		err = parse(fs, args, func() bool { return true })
		if err != nil {
			return err
		}

		return withDB(ctx, func(db *sql.DB, cfg dbConfig) error {
			svc, err := packService(db, cfg)
			if err != nil {
				return err
			}

			stats, err := svc.PoolStats(ctx)
			if err != nil {
				return err
			}

			return printJSON(stats)
		})
	case "load-pool":
		file := fs.String("file", "", "JSON array of cards")

		err = parse(fs, args, func() bool { return *file != "" })
		if err != nil {
			return err
		}

		batch, err := readPool(*file)
		if err != nil {
			return err
		}

		return withDB(ctx, func(db *sql.DB, cfg dbConfig) error {
			svc, err := packService(db, cfg)
			if err != nil {
				return err
			}

			ids, err := svc.AddToPool(ctx, batch)
			if err != nil {
				return err
			}

			fmt.Printf("added %d cards\n", len(ids))

			return nil
		})
	default:
		fmt.Fprintln(os.Stderr, usage)

		return fmt.Errorf("unknown command %q", cmd)
	}
}

var errMissingFlags = errors.New("missing required flags")

func parse(fs *flag.FlagSet, args []string, valid func() bool) error {
	err := fs.Parse(args)
	if err != nil {
		return err
	}

	if !valid() {
		fs.Usage()

		return errMissingFlags
	}

	return nil
}

func withDB(ctx context.Context, fn func(*sql.DB, dbConfig) error) error {
	var cfg dbConfig

	err := envconf.Load(&cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel)

	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	//nolint:errcheck
	defer db.Close()

	return fn(db, cfg)
}

func packService(db *sql.DB, cfg dbConfig) (*packs.Service, error) {
	packCfg := packs.DefaultConfig()

	if cfg.PackConfigFile != "" {
		var err error

		packCfg, err = packs.LoadConfig(cfg.PackConfigFile)
		if err != nil {
			return nil, err
		}
	}

	return packs.New(db, packCfg, credits.New(db)), nil
}

func readPool(path string) ([]cards.NewCard, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pool file: %w", err)
	}

	var in []poolCard

	err = json.Unmarshal(raw, &in)
	if err != nil {
		return nil, fmt.Errorf("decode pool file: %w", err)
	}

	out := make([]cards.NewCard, 0, len(in))
	for _, c := range in {
		out = append(out, cards.NewCard{
			Name:       c.Name,
			CardData:   c.CardData,
			ImagePath:  c.ImagePath,
			Rarity:     c.Rarity,
			SetName:    c.SetName,
			CardNumber: c.CardNumber,
		})
	}

	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
