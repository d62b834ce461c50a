// SPDX-License-Identifier: GPL-2.0-or-later

package media

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// NoPTS is the value of a timestamp that is not set, matching AV_NOPTS_VALUE.
const NoPTS = math.MinInt64

// Rational number used as a time base, 1/30 means 30 ticks per second.
type Rational struct {
	Num int
	Den int
}

// NewRational returns num/den.
func NewRational(num, den int) Rational {
	return Rational{Num: num, Den: den}
}

// Valid reports if the rational can be used as a time base.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Float64 returns the rational as a float.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return strconv.Itoa(r.Num) + "/" + strconv.Itoa(r.Den)
}

// MarshalText implements encoding.TextMarshaler.
func (r Rational) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ErrInvalidRational invalid rational.
var ErrInvalidRational = errors.New("invalid rational")

// UnmarshalText parses "num/den".
func (r *Rational) UnmarshalText(text []byte) error {
	num, den, found := strings.Cut(strings.TrimSpace(string(text)), "/")
	if !found {
		return fmt.Errorf("%w: %q", ErrInvalidRational, text)
	}
	n, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidRational, text, err)
	}
	d, err := strconv.Atoi(strings.TrimSpace(den))
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidRational, text, err)
	}
	if d == 0 {
		return fmt.Errorf("%w: zero denominator: %q", ErrInvalidRational, text)
	}
	r.Num, r.Den = n, d
	return nil
}

// Rescale converts ts from the src time base to the dst time base.
// Rounds to nearest with halfway cases away from zero. NoPTS is passed through.
func Rescale(ts int64, src, dst Rational) int64 {
	if ts == NoPTS || src == dst {
		return ts
	}
	if !src.Valid() || !dst.Valid() {
		return ts
	}

	// ts * src.Num * dst.Den / (src.Den * dst.Num)
	num := new(big.Int).SetInt64(ts)
	num.Mul(num, big.NewInt(int64(src.Num)))
	num.Mul(num, big.NewInt(int64(dst.Den)))

	den := big.NewInt(int64(src.Den))
	den.Mul(den, big.NewInt(int64(dst.Num)))

	neg := num.Sign() < 0
	num.Abs(num)

	// (2*num + den) / (2*den)
	num.Lsh(num, 1)
	num.Add(num, den)
	den.Lsh(den, 1)
	num.Quo(num, den)

	if neg {
		num.Neg(num)
	}
	if !num.IsInt64() {
		return NoPTS
	}
	return num.Int64()
}

// RescalePacket rescales the packet timestamps in place.
func RescalePacket(p *Packet, src, dst Rational) {
	p.PTS = Rescale(p.PTS, src, dst)
	p.DTS = Rescale(p.DTS, src, dst)
}
