package packs

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fastprodman/tcgpacks/internal/repos/cards"
	"github.com/pelletier/go-toml/v2"
)

// Upgrade replaces a slot's rarity with a rarer one on a successful roll.
type Upgrade struct {
	Rarity cards.Rarity `toml:"rarity"`
	Chance float64      `toml:"chance"`
}

// Slot is one group of cards in a pack, drawn from a single rarity.
type Slot struct {
	Name    string       `toml:"name"`
	Rarity  cards.Rarity `toml:"rarity"`
	Count   int          `toml:"count"`
	Upgrade *Upgrade     `toml:"upgrade,omitempty"`
}

type Config struct {
	Cost       int64         `toml:"cost"`
	Slots      []Slot        `toml:"slots"`
	MaxRetries int           `toml:"max_retries"`
	RetryDelay time.Duration `toml:"-"`

	RetryDelayMS int64 `toml:"retry_delay_ms"`
}

func DefaultConfig() Config {
	return Config{
		Cost: 100,
		Slots: []Slot{
			{Name: "rare_mythic", Rarity: cards.Rare, Count: 1, Upgrade: &Upgrade{Rarity: cards.Mythic, Chance: 0.07}},
			{Name: "uncommon", Rarity: cards.Uncommon, Count: 3},
			{Name: "common", Rarity: cards.Common, Count: 5},
		},
		MaxRetries:   3,
		RetryDelay:   500 * time.Millisecond,
		RetryDelayMS: 500,
	}
}

// Size is the number of cards in a full pack.
func (c Config) Size() int {
	n := 0
	for _, s := range c.Slots {
		n += s.Count
	}

	return n
}

func (c Config) Validate() error {
	var errs []error

	if c.Cost <= 0 {
		errs = append(errs, errors.New("cost must be positive"))
	}

	if len(c.Slots) == 0 {
		errs = append(errs, errors.New("at least one slot is required"))
	}

	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}

	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("retry delay must not be negative"))
	}

	for i, s := range c.Slots {
		if s.Count <= 0 {
			errs = append(errs, fmt.Errorf("slot %d (%s): count must be positive", i, s.Name))
		}

		_, err := cards.ParseRarity(string(s.Rarity))
		if err != nil {
			errs = append(errs, fmt.Errorf("slot %d (%s): %w", i, s.Name, err))
		}

		if s.Upgrade != nil {
			_, err = cards.ParseRarity(string(s.Upgrade.Rarity))
			if err != nil {
				errs = append(errs, fmt.Errorf("slot %d (%s) upgrade: %w", i, s.Name, err))
			}

			if s.Upgrade.Chance < 0 || s.Upgrade.Chance > 1 {
				errs = append(errs, fmt.Errorf("slot %d (%s): upgrade chance must be within [0, 1]", i, s.Name))
			}
		}
	}

	return errors.Join(errs...)
}

// LoadConfig reads a TOML pack definition. Keys missing from the file keep
// their default values; a file that sets slots replaces all of them.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read pack config: %w", err)
	}

	return ParseConfig(raw)
}

func ParseConfig(raw []byte) (Config, error) {
	cfg := DefaultConfig()
	defaultSlots := cfg.Slots
	// array tables append to an existing slice
	cfg.Slots = nil

	err := toml.Unmarshal(raw, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode pack config: %w", err)
	}

	if len(cfg.Slots) == 0 {
		cfg.Slots = defaultSlots
	}

	cfg.RetryDelay = time.Duration(cfg.RetryDelayMS) * time.Millisecond

	err = cfg.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("invalid pack config: %w", err)
	}

	return cfg, nil
}
