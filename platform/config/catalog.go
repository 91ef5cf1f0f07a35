package config

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// GameEntry describes one playable game: which board layout it uses, which
// rules contract decides legality and the default stake in wei.
type GameEntry struct {
	Name  string `yaml:"name"`
	Board string `yaml:"board"`
	Rules string `yaml:"rules"`
	Stake string `yaml:"stake"`
}

// Catalog is the list of games a participant is willing to propose or accept.
type Catalog struct {
	Games []GameEntry `yaml:"games"`
}

const defaultCatalog = `
games:
  - name: tictactoe
    board: tictactoe
    rules: "0x00000000000000000000000000000000000007c7"
    stake: "0"
  - name: checkers
    board: checkers
    rules: "0x0000000000000000000000000000000000000c4e"
    stake: "0"
`

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() Catalog {
	c, err := ParseCatalog([]byte(defaultCatalog))
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog reads a YAML catalog from path. An empty path yields the
// built-in catalog.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	seen := make(map[string]bool, len(c.Games))
	for _, g := range c.Games {
		if g.Name == "" {
			return Catalog{}, fmt.Errorf("catalog: game without name")
		}
		if seen[g.Name] {
			return Catalog{}, fmt.Errorf("catalog: duplicate game %q", g.Name)
		}
		seen[g.Name] = true
		if _, err := g.RulesAddress(); err != nil {
			return Catalog{}, err
		}
		if _, err := g.StakeAmount(); err != nil {
			return Catalog{}, err
		}
	}
	return c, nil
}

// Lookup finds a game by name.
func (c Catalog) Lookup(name string) (GameEntry, bool) {
	for _, g := range c.Games {
		if g.Name == name {
			return g, true
		}
	}
	return GameEntry{}, false
}

// RulesAddress parses the rules contract address.
func (g GameEntry) RulesAddress() (common.Address, error) {
	if !common.IsHexAddress(g.Rules) {
		return common.Address{}, fmt.Errorf("catalog: game %q has invalid rules address %q", g.Name, g.Rules)
	}
	return common.HexToAddress(g.Rules), nil
}

// StakeAmount parses the stake. An empty stake is zero.
func (g GameEntry) StakeAmount() (*uint256.Int, error) {
	if g.Stake == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(g.Stake)
	if err != nil {
		return nil, fmt.Errorf("catalog: game %q has invalid stake %q: %w", g.Name, g.Stake, err)
	}
	return v, nil
}
