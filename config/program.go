package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"vestd/sale/ledger"
	"vestd/sale/pricing"
)

// Program is the human-edited definition of the distribution program:
// start epoch, pricing bands, reward tranches, and payout parameters.
// Amounts are decimal strings so wei-scale values survive YAML intact.
type Program struct {
	Start             Timestamp    `yaml:"start"`
	DenominatorPolicy string       `yaml:"denominator_policy"`
	BuybackPercent    uint64       `yaml:"buyback_percent"`
	PayoutQuantum     string       `yaml:"payout_quantum"`
	Bands             []BandDef    `yaml:"bands"`
	CapPrice          string       `yaml:"cap_price"`
	Tranches          []TrancheDef `yaml:"tranches"`
}

// BandDef is one pricing band.
type BandDef struct {
	UpTo  uint64 `yaml:"up_to"`
	Price string `yaml:"price"`
}

// TrancheDef is one reward tranche; End is the inclusive end of the tranche.
type TrancheDef struct {
	End          Timestamp `yaml:"end"`
	BuyerPool    string    `yaml:"buyer_pool"`
	ReferrerPool string    `yaml:"referrer_pool"`
}

// Timestamp accepts either RFC 3339 strings or unix seconds.
type Timestamp struct {
	Unix int64
}

// UnmarshalYAML parses the two accepted timestamp forms.
func (t *Timestamp) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind != yaml.ScalarNode {
		return fmt.Errorf("timestamp must be a scalar")
	}
	var unix int64
	if err := value.Decode(&unix); err == nil {
		t.Unix = unix
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	t.Unix = parsed.Unix()
	return nil
}

// LoadProgram reads and validates a program definition file.
func LoadProgram(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program %s: %w", path, err)
	}
	program := &Program{}
	if err := yaml.Unmarshal(data, program); err != nil {
		return nil, fmt.Errorf("decode program %s: %w", path, err)
	}
	if err := program.Validate(); err != nil {
		return nil, fmt.Errorf("program %s: %w", path, err)
	}
	return program, nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%s: not a decimal amount: %q", field, raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%s: negative amount: %q", field, raw)
	}
	return value, nil
}

// Validate checks the definition without building derived structures.
func (p *Program) Validate() error {
	if p.Start.Unix < 0 {
		return fmt.Errorf("start must not be negative")
	}
	if _, err := ledger.ParsePolicy(p.DenominatorPolicy); err != nil {
		return err
	}
	if p.BuybackPercent > 100 {
		return fmt.Errorf("buyback_percent %d out of range", p.BuybackPercent)
	}
	if p.PayoutQuantum != "" {
		if _, err := parseAmount("payout_quantum", p.PayoutQuantum); err != nil {
			return err
		}
	}
	if _, err := parseAmount("cap_price", p.CapPrice); err != nil {
		return err
	}
	for i, band := range p.Bands {
		if _, err := parseAmount(fmt.Sprintf("bands[%d].price", i), band.Price); err != nil {
			return err
		}
	}
	if len(p.Tranches) == 0 {
		return fmt.Errorf("at least one tranche is required")
	}
	for i, tranche := range p.Tranches {
		if _, err := parseAmount(fmt.Sprintf("tranches[%d].buyer_pool", i), tranche.BuyerPool); err != nil {
			return err
		}
		if _, err := parseAmount(fmt.Sprintf("tranches[%d].referrer_pool", i), tranche.ReferrerPool); err != nil {
			return err
		}
	}
	return nil
}

// Policy returns the parsed denominator policy.
func (p *Program) Policy() (ledger.DenominatorPolicy, error) {
	return ledger.ParsePolicy(p.DenominatorPolicy)
}

// PricingBands converts the band definitions.
func (p *Program) PricingBands() ([]pricing.Band, *big.Int, error) {
	bands := make([]pricing.Band, len(p.Bands))
	for i, band := range p.Bands {
		price, err := parseAmount(fmt.Sprintf("bands[%d].price", i), band.Price)
		if err != nil {
			return nil, nil, err
		}
		bands[i] = pricing.Band{UpTo: band.UpTo, Price: price}
	}
	capPrice, err := parseAmount("cap_price", p.CapPrice)
	if err != nil {
		return nil, nil, err
	}
	return bands, capPrice, nil
}

// Quantum returns the payout quantum; claims are floored to multiples of it.
// Absent means gwei-scale precision on wei-scale amounts.
func (p *Program) Quantum() (*big.Int, error) {
	if p.PayoutQuantum == "" {
		return big.NewInt(1_000_000_000), nil
	}
	return parseAmount("payout_quantum", p.PayoutQuantum)
}

// ScheduleArrays converts the tranche definitions into the schedule
// initialization arrays.
func (p *Program) ScheduleArrays() ([]int64, []*big.Int, []*big.Int, error) {
	ends := make([]int64, len(p.Tranches))
	buyers := make([]*big.Int, len(p.Tranches))
	referrers := make([]*big.Int, len(p.Tranches))
	for i, tranche := range p.Tranches {
		ends[i] = tranche.End.Unix
		buyer, err := parseAmount(fmt.Sprintf("tranches[%d].buyer_pool", i), tranche.BuyerPool)
		if err != nil {
			return nil, nil, nil, err
		}
		referrer, err := parseAmount(fmt.Sprintf("tranches[%d].referrer_pool", i), tranche.ReferrerPool)
		if err != nil {
			return nil, nil, nil, err
		}
		buyers[i] = buyer
		referrers[i] = referrer
	}
	return ends, buyers, referrers, nil
}
