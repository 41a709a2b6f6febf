// Package market owns per-instrument market structure: the instrument
// catalogue, daily price bands, the halt/delist/relist rules, candle history
// and the cosmetic order book.
package market

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kospisim/market-engine/internal/model"
	"github.com/kospisim/market-engine/internal/pricing"
)

var (
	// ErrEmptyCatalog is returned when a catalogue lists no instruments.
	ErrEmptyCatalog = errors.New("market: catalog has no instruments")

	// ErrInvalidInstrument is returned when an instrument row fails validation.
	ErrInvalidInstrument = errors.New("market: invalid instrument")
)

// DefaultCatalog returns the built-in table: seven bluechips and three theme
// stocks.
func DefaultCatalog() []model.InstrumentConfig {
	return []model.InstrumentConfig{
		{ID: "1", Name: "Hanbit Electronics", Symbol: "005930", Class: model.ClassBluechip, InitialPrice: 72000, MeanPrice: 75000, Kappa: 0.02, Sigma: 0.03, JumpIntensity: 0.1},
		{ID: "2", Name: "Seorin Semiconductor", Symbol: "000660", Class: model.ClassBluechip, InitialPrice: 185000, MeanPrice: 190000, Kappa: 0.025, Sigma: 0.04, JumpIntensity: 0.15},
		{ID: "3", Name: "Daon Appliances", Symbol: "066570", Class: model.ClassBluechip, InitialPrice: 95000, MeanPrice: 100000, Kappa: 0.02, Sigma: 0.035, JumpIntensity: 0.1},
		{ID: "4", Name: "Nuri Portal", Symbol: "035420", Class: model.ClassBluechip, InitialPrice: 195000, MeanPrice: 210000, Kappa: 0.03, Sigma: 0.045, JumpIntensity: 0.2},
		{ID: "5", Name: "Moa Messenger", Symbol: "035720", Class: model.ClassBluechip, InitialPrice: 42000, MeanPrice: 45000, Kappa: 0.035, Sigma: 0.05, JumpIntensity: 0.2},
		{ID: "6", Name: "Gyeongin Motors", Symbol: "005380", Class: model.ClassBluechip, InitialPrice: 245000, MeanPrice: 250000, Kappa: 0.02, Sigma: 0.03, JumpIntensity: 0.1},
		{ID: "7", Name: "Cheonji Chemical", Symbol: "051910", Class: model.ClassBluechip, InitialPrice: 380000, MeanPrice: 400000, Kappa: 0.025, Sigma: 0.04, JumpIntensity: 0.15},
		{ID: "8", Name: "Quantum Bio", Symbol: "900010", Class: model.ClassTheme, InitialPrice: 8500, MeanPrice: 7000, Kappa: 0.05, Sigma: 0.15, JumpIntensity: 0.6},
		{ID: "9", Name: "AI Solution", Symbol: "900020", Class: model.ClassTheme, InitialPrice: 15200, MeanPrice: 12000, Kappa: 0.06, Sigma: 0.18, JumpIntensity: 0.7},
		{ID: "10", Name: "MetaCoin", Symbol: "900030", Class: model.ClassTheme, InitialPrice: 4800, MeanPrice: 4000, Kappa: 0.07, Sigma: 0.20, JumpIntensity: 0.8},
	}
}

type catalogFile struct {
	Instruments []model.InstrumentConfig `yaml:"instruments"`
}

// LoadCatalog reads an instrument table from a YAML file of the form
//
//	instruments:
//	  - id: "1"
//	    name: ...
//
// and validates it.
func LoadCatalog(path string) ([]model.InstrumentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if err := ValidateCatalog(f.Instruments); err != nil {
		return nil, err
	}
	return f.Instruments, nil
}

// ValidateCatalog checks every row and rejects duplicate ids.
func ValidateCatalog(cfgs []model.InstrumentConfig) error {
	if len(cfgs) == 0 {
		return ErrEmptyCatalog
	}
	seen := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		if c.ID == "" {
			return fmt.Errorf("%w: missing id", ErrInvalidInstrument)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidInstrument, c.ID)
		}
		seen[c.ID] = true

		switch {
		case c.Name == "":
			return fmt.Errorf("%w: %s has no name", ErrInvalidInstrument, c.ID)
		case c.Class != model.ClassBluechip && c.Class != model.ClassTheme:
			return fmt.Errorf("%w: %s has unknown class %q", ErrInvalidInstrument, c.ID, c.Class)
		case c.InitialPrice < pricing.MinPrice:
			return fmt.Errorf("%w: %s initial price %d below %d", ErrInvalidInstrument, c.ID, c.InitialPrice, pricing.MinPrice)
		case !pricing.OnTick(c.InitialPrice):
			return fmt.Errorf("%w: %s initial price %d is not a multiple of %d", ErrInvalidInstrument, c.ID, c.InitialPrice, pricing.TickSize(c.InitialPrice))
		case c.MeanPrice <= 0:
			return fmt.Errorf("%w: %s mean price must be positive", ErrInvalidInstrument, c.ID)
		case c.Sigma <= 0:
			return fmt.Errorf("%w: %s sigma must be positive", ErrInvalidInstrument, c.ID)
		case c.Kappa < 0 || c.JumpIntensity < 0:
			return fmt.Errorf("%w: %s kappa and jump intensity must not be negative", ErrInvalidInstrument, c.ID)
		}
	}
	return nil
}
