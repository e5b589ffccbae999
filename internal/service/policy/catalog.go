package policy

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"github.com/nkiryanov/walletledger/internal/models"
)

//go:embed packages.yaml
var defaultCatalog []byte

type packageConfig struct {
	ID           string `yaml:"id"`
	Credits      int64  `yaml:"credits"`
	Price        string `yaml:"price"`
	BonusCredits int64  `yaml:"bonus_credits"`
}

type catalogConfig struct {
	Packages []packageConfig `yaml:"packages"`
}

// Catalog of credit packages, read only after creation
type Catalog struct {
	packages []models.CreditPackage
	byID     map[string]models.CreditPackage
}

// Catalog embedded into binary
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded packages catalog is broken: %v", err))
	}
	return c
}

// Load catalog from yaml file. If path is empty the default catalog is used
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}

	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}

	return c, nil
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var cfg catalogConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Packages) == 0 {
		return nil, fmt.Errorf("catalog has no packages")
	}

	c := &Catalog{
		packages: make([]models.CreditPackage, 0, len(cfg.Packages)),
		byID:     make(map[string]models.CreditPackage, len(cfg.Packages)),
	}

	for i, p := range cfg.Packages {
		switch {
		case p.ID == "":
			return nil, fmt.Errorf("package at index %d missing id", i)
		case p.Credits <= 0:
			return nil, fmt.Errorf("package %q must have positive credits", p.ID)
		case p.BonusCredits < 0:
			return nil, fmt.Errorf("package %q has negative bonus credits", p.ID)
		}

		if _, ok := c.byID[p.ID]; ok {
			return nil, fmt.Errorf("package %q is duplicated", p.ID)
		}

		price, err := decimal.NewFromString(p.Price)
		if err != nil || !IsValidMoney(price) {
			return nil, fmt.Errorf("package %q has invalid price %q", p.ID, p.Price)
		}

		pkg := models.CreditPackage{
			ID:           p.ID,
			Credits:      p.Credits,
			Price:        price,
			BonusCredits: p.BonusCredits,
		}
		c.packages = append(c.packages, pkg)
		c.byID[pkg.ID] = pkg
	}

	return c, nil
}

func (c *Catalog) Get(id string) (models.CreditPackage, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Packages in the catalog order
func (c *Catalog) List() []models.CreditPackage {
	out := make([]models.CreditPackage, len(c.packages))
	copy(out, c.packages)
	return out
}
