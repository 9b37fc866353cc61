package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderdesk/internal/domain"
)

// Seeder is implemented by backends that can be populated from a seed document.
type Seeder interface {
	SeedProduct(ctx context.Context, product domain.Product, onHand int) error
	SeedClient(ctx context.Context, client domain.Client) error
	SeedPromotion(ctx context.Context, promotion domain.Promotion) error
}

type seedDocument struct {
	Products []struct {
		ID        string       `json:"id"`
		Name      string       `json:"name"`
		UnitPrice domain.Money `json:"unitPrice"`
		Stock     int          `json:"stock"`
	} `json:"products"`
	Clients []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Tier  string `json:"tier"`
	} `json:"clients"`
	Promotions []struct {
		ID              string          `json:"id"`
		Code            string          `json:"code"`
		DiscountPercent decimal.Decimal `json:"discountPercent"`
		ExpiresAt       time.Time       `json:"expiresAt"`
		Description     string          `json:"description"`
	} `json:"promotions"`
}

// LoadSeedFile opens path and applies it through seeder.
func LoadSeedFile(ctx context.Context, seeder Seeder, path string, now time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("seed: open %s: %w", path, err)
	}
	defer f.Close()
	return LoadSeed(ctx, seeder, f, now)
}

// LoadSeed decodes a seed document and upserts every record it contains. The whole
// document is validated before anything is written.
func LoadSeed(ctx context.Context, seeder Seeder, r io.Reader, now time.Time) error {
	var doc seedDocument
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("seed: decode: %w", err)
	}
	now = now.UTC()

	products := make([]domain.Product, len(doc.Products))
	for i, p := range doc.Products {
		if p.UnitPrice < 0 {
			return fmt.Errorf("seed: product %s has a negative price", p.ID)
		}
		if p.Stock < 0 {
			return fmt.Errorf("seed: product %s has negative stock", p.ID)
		}
		products[i] = domain.Product{ID: p.ID, Name: p.Name, UnitPrice: p.UnitPrice, UpdatedAt: now}
	}
	clients := make([]domain.Client, len(doc.Clients))
	for i, c := range doc.Clients {
		tier, ok := domain.ParseClientTier(c.Tier)
		if !ok {
			return fmt.Errorf("seed: client %s has unknown tier %q", c.ID, c.Tier)
		}
		clients[i] = domain.Client{ID: c.ID, Name: c.Name, Email: c.Email, Tier: tier, CreatedAt: now}
	}
	promotions := make([]domain.Promotion, len(doc.Promotions))
	for i, p := range doc.Promotions {
		if p.DiscountPercent.IsNegative() || p.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("seed: promotion %s discount %s outside 0..100", p.ID, p.DiscountPercent)
		}
		promotions[i] = domain.Promotion{
			ID:              p.ID,
			Code:            p.Code,
			DiscountPercent: p.DiscountPercent,
			ExpiresAt:       p.ExpiresAt.UTC(),
			Description:     p.Description,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}

	for i, product := range products {
		if err := seeder.SeedProduct(ctx, product, doc.Products[i].Stock); err != nil {
			return err
		}
	}
	for _, client := range clients {
		if err := seeder.SeedClient(ctx, client); err != nil {
			return err
		}
	}
	for _, promotion := range promotions {
		if err := seeder.SeedPromotion(ctx, promotion); err != nil {
			return err
		}
	}
	return nil
}
