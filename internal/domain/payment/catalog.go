package payment

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// Pack is a priced bundle of credits.
type Pack struct {
	ID       string          `toml:"id" json:"id"`
	Name     string          `toml:"name" json:"name"`
	Credits  int64           `toml:"credits" json:"credits"`
	Price    decimal.Decimal `toml:"price" json:"price"`
	Currency string          `toml:"currency" json:"currency"`
	Popular  bool            `toml:"popular" json:"is_popular"`
	Disabled bool            `toml:"disabled" json:"-"`
}

// PricePerCredit returns the unit price rounded to four decimals.
func (p Pack) PricePerCredit() decimal.Decimal {
	if p.Credits <= 0 {
		return decimal.Zero
	}
	return p.Price.DivRound(decimal.NewFromInt(p.Credits), 4)
}

// UnitAmount returns the price in minor currency units.
func (p Pack) UnitAmount() int64 {
	return p.Price.Shift(2).Round(0).IntPart()
}

type catalogFile struct {
	Currency string `toml:"currency"`
	Packs    []Pack `toml:"pack"`
}

// Catalog is the immutable set of packs offered for purchase.
type Catalog struct {
	packs []Pack
	byID  map[string]Pack
}

// LoadCatalog reads packs from a TOML file.
func LoadCatalog(path string) (*Catalog, error) {
	var f catalogFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return newCatalog(f)
}

// ParseCatalog reads packs from TOML text.
func ParseCatalog(data string) (*Catalog, error) {
	var f catalogFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return newCatalog(f)
}

func newCatalog(f catalogFile) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Pack, len(f.Packs))}
	for _, p := range f.Packs {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: pack without id", ErrInvalidCatalog)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate pack %q", ErrInvalidCatalog, p.ID)
		}
		if p.Credits <= 0 {
			return nil, fmt.Errorf("%w: pack %q has no credits", ErrInvalidCatalog, p.ID)
		}
		if !p.Price.IsPositive() {
			return nil, fmt.Errorf("%w: pack %q has no price", ErrInvalidCatalog, p.ID)
		}
		if p.Currency == "" {
			p.Currency = f.Currency
		}
		if p.Currency == "" {
			p.Currency = "eur"
		}
		c.byID[p.ID] = p
		c.packs = append(c.packs, p)
	}
	sort.Slice(c.packs, func(i, j int) bool { return c.packs[i].Credits < c.packs[j].Credits })
	return c, nil
}

// Get returns an active pack.
func (c *Catalog) Get(id string) (Pack, bool) {
	p, ok := c.byID[id]
	if !ok || p.Disabled {
		return Pack{}, false
	}
	return p, true
}

// Lookup returns a pack even when disabled. Purchases of retired packs still settle.
func (c *Catalog) Lookup(id string) (Pack, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// List returns active packs ordered by credits.
func (c *Catalog) List() []Pack {
	out := make([]Pack, 0, len(c.packs))
	for _, p := range c.packs {
		if !p.Disabled {
			out = append(out, p)
		}
	}
	return out
}
