// Command seed-db loads development users, API keys, products and discount
// codes. It is safe to rerun.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/discount"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

type seedFile struct {
	Users []struct {
		ID     string `json:"id"`
		Email  string `json:"email"`
		Name   string `json:"name"`
		Role   string `json:"role"`
		APIKey string `json:"api_key"`
	} `json:"users"`
	Products []struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Price    decimal.Decimal `json:"price"`
		SellerID string          `json:"seller_id"`
		Stock    int             `json:"stock"`
	} `json:"products"`
	DiscountCodes []struct {
		Code           string          `json:"code"`
		Amount         decimal.Decimal `json:"discount_amount"`
		MinOrderValue  decimal.Decimal `json:"min_order_value"`
		MaxUsage       int             `json:"max_usage"`
		FirstOrderOnly bool            `json:"is_first_order_only"`
		ValidDays      int             `json:"valid_days"`
	} `json:"discount_codes"`
}

func main() {
	var (
		databaseURL  string
		seedPath     string
		apiKeyPepper string
	)

	_ = godotenv.Load()

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/seed.json", "path to the seed JSON file")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("KART_API_KEY_PEPPER")
	}
	if apiKeyPepper == "" {
		slog.Error("API key pepper is required: set --api-key-pepper or KART_API_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath, []byte(apiKeyPepper)); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath string, pepper []byte) error {
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	store := postgres.NewStore(pool)
	seeder := postgres.NewSeeder(store)
	return store.InTx(ctx, func(ctx context.Context) error {
		if err := seedUsers(ctx, seeder, seed, pepper); err != nil {
			return errors.Wrap(err, "seed users")
		}
		if err := seedProducts(ctx, seeder, seed); err != nil {
			return errors.Wrap(err, "seed products")
		}
		if err := seedDiscounts(ctx, seeder, seed); err != nil {
			return errors.Wrap(err, "seed discount codes")
		}
		return nil
	})
}

func seedUsers(ctx context.Context, s *postgres.Seeder, seed seedFile, pepper []byte) error {
	for _, u := range seed.Users {
		role, err := auth.ParseRole(u.Role)
		if err != nil {
			return errors.Wrapf(err, "user %s", u.ID)
		}
		user := auth.User{ID: u.ID, Email: u.Email, Name: u.Name, Role: role}
		if err := s.UpsertUser(ctx, user); err != nil {
			return err
		}
		slog.Info("upserted user", slog.String("id", u.ID), slog.String("role", u.Role))

		if u.APIKey == "" {
			continue
		}
		if err := s.UpsertAPIKey(ctx, auth.APIKeyInfo{
			ID:      u.ID + "-dev",
			KeyHash: auth.HashKey(pepper, u.APIKey),
			Name:    "Development key for " + u.Name,
			User:    user,
		}); err != nil {
			return err
		}
		slog.Info("upserted API key", slog.String("user", u.ID))
	}
	return nil
}

func seedProducts(ctx context.Context, s *postgres.Seeder, seed seedFile) error {
	for _, p := range seed.Products {
		if err := s.UpsertProduct(ctx, product.Product{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			SellerID: p.SellerID,
			Stock:    p.Stock,
		}); err != nil {
			return err
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("price", p.Price.StringFixed(2)))
	}
	return nil
}

func seedDiscounts(ctx context.Context, s *postgres.Seeder, seed seedFile) error {
	now := time.Now().UTC().Truncate(time.Hour)
	codes := make([]discount.Code, 0, len(seed.DiscountCodes))
	for _, c := range seed.DiscountCodes {
		days := c.ValidDays
		if days <= 0 {
			days = 30
		}
		codes = append(codes, discount.Code{
			Code:           discount.Normalize(c.Code),
			Amount:         c.Amount,
			ValidFrom:      now,
			ValidUntil:     now.AddDate(0, 0, days),
			FirstOrderOnly: c.FirstOrderOnly,
			MinOrderValue:  c.MinOrderValue,
			MaxUsage:       c.MaxUsage,
		})
	}
	n, err := s.UpsertDiscounts(ctx, codes)
	if err != nil {
		return err
	}
	slog.Info("upserted discount codes", slog.Int64("rows", n))
	return nil
}
