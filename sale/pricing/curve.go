package pricing

import (
	"fmt"
	"math/big"

	"vestd/sale"
)

// Band covers unit indices below UpTo at a flat per-unit price. Bands are
// contiguous: the first band starts at index zero and each subsequent band
// starts where the previous one ends.
type Band struct {
	UpTo  uint64
	Price *big.Int
}

// Curve maps a cumulative-units-sold index to a per-unit price. Units at or
// beyond the last band threshold are priced at the flat cap price.
type Curve struct {
	bands []Band
	cap   *big.Int
}

// NewCurve validates the band list and constructs a curve. Thresholds must be
// strictly increasing and positive; every price must be positive.
func NewCurve(bands []Band, capPrice *big.Int) (*Curve, error) {
	if capPrice == nil || capPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: cap price must be positive", sale.ErrCurveInvalid)
	}
	cloned := make([]Band, len(bands))
	var prev uint64
	for i, band := range bands {
		if band.Price == nil || band.Price.Sign() <= 0 {
			return nil, fmt.Errorf("%w: band %d price must be positive", sale.ErrCurveInvalid, i)
		}
		if band.UpTo == 0 || (i > 0 && band.UpTo <= prev) {
			return nil, fmt.Errorf("%w: band %d threshold not increasing", sale.ErrCurveInvalid, i)
		}
		prev = band.UpTo
		cloned[i] = Band{UpTo: band.UpTo, Price: new(big.Int).Set(band.Price)}
	}
	return &Curve{bands: cloned, cap: new(big.Int).Set(capPrice)}, nil
}

// PriceAt returns the per-unit price charged for the unit at the given
// cumulative index.
func (c *Curve) PriceAt(index uint64) *big.Int {
	for _, band := range c.bands {
		if index < band.UpTo {
			return new(big.Int).Set(band.Price)
		}
	}
	return new(big.Int).Set(c.cap)
}

// Quote prices a purchase of quantity units starting at the given cumulative
// index. A purchase spanning several bands pays each band's price for the
// units that fall inside it, so quoting a range in parts always sums to the
// combined quote.
func (c *Curve) Quote(startIndex, quantity uint64) (*big.Int, error) {
	if quantity == 0 {
		return nil, sale.ErrZeroQuantity
	}
	total := new(big.Int)
	index := startIndex
	remaining := quantity
	for _, band := range c.bands {
		if remaining == 0 {
			break
		}
		if index >= band.UpTo {
			continue
		}
		take := band.UpTo - index
		if take > remaining {
			take = remaining
		}
		total.Add(total, new(big.Int).Mul(band.Price, new(big.Int).SetUint64(take)))
		index += take
		remaining -= take
	}
	if remaining > 0 {
		total.Add(total, new(big.Int).Mul(c.cap, new(big.Int).SetUint64(remaining)))
	}
	return total, nil
}

// Bands returns a copy of the configured bands.
func (c *Curve) Bands() []Band {
	out := make([]Band, len(c.bands))
	for i, band := range c.bands {
		out[i] = Band{UpTo: band.UpTo, Price: new(big.Int).Set(band.Price)}
	}
	return out
}

// CapPrice returns the flat price applied beyond the last band.
func (c *Curve) CapPrice() *big.Int {
	return new(big.Int).Set(c.cap)
}
