// Package marketdata converts klines from their wire form (decimal strings)
// into the numeric form the indicators work on.
package marketdata

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"turtleAdvisor/internal/domain"
)

// ErrInvalidField is returned by NormalizeStrict for an unparseable field.
var ErrInvalidField = errors.New("invalid kline field")

// ParsedValue is the result of parsing one decimal field.
// Valid is false when the input was not a finite decimal number.
type ParsedValue struct {
	Value float64
	Valid bool
}

// ParseDecimal parses s as a decimal number.
func ParseDecimal(s string) ParsedValue {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return ParsedValue{}
	}
	f, _ := d.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ParsedValue{}
	}
	return ParsedValue{Value: f, Valid: true}
}

// Normalize converts a raw kline, coercing every unparseable field to 0.
// Volume is marked absent when the raw field is empty.
func Normalize(raw domain.RawKline) domain.Kline {
	k := baseKline(raw)
	k.Open = ParseDecimal(raw.Open).Value
	k.Close = ParseDecimal(raw.Close).Value
	k.High = ParseDecimal(raw.High).Value
	k.Low = ParseDecimal(raw.Low).Value
	if strings.TrimSpace(raw.Volume) != "" {
		k.Volume = ParseDecimal(raw.Volume).Value
		k.HasVolume = true
	}
	return k
}

// NormalizeStrict converts a raw kline and fails on the first unparseable field.
func NormalizeStrict(raw domain.RawKline) (domain.Kline, error) {
	k := baseKline(raw)
	fields := []struct {
		name string
		in   string
		out  *float64
	}{
		{"open", raw.Open, &k.Open},
		{"close", raw.Close, &k.Close},
		{"high", raw.High, &k.High},
		{"low", raw.Low, &k.Low},
	}
	for _, f := range fields {
		v := ParseDecimal(f.in)
		if !v.Valid {
			return domain.Kline{}, fmt.Errorf("%w: %s=%q", ErrInvalidField, f.name, f.in)
		}
		*f.out = v.Value
	}
	if strings.TrimSpace(raw.Volume) != "" {
		v := ParseDecimal(raw.Volume)
		if !v.Valid {
			return domain.Kline{}, fmt.Errorf("%w: volume=%q", ErrInvalidField, raw.Volume)
		}
		k.Volume = v.Value
		k.HasVolume = true
	}
	return k, nil
}

// NormalizeAll converts a window of raw klines, keeping their order.
func NormalizeAll(raws []domain.RawKline) []*domain.Kline {
	out := make([]*domain.Kline, len(raws))
	for i, raw := range raws {
		k := Normalize(raw)
		out[i] = &k
	}
	return out
}

// FormatDecimal renders v without exponent and without trailing zeros.
func FormatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func baseKline(raw domain.RawKline) domain.Kline {
	return domain.Kline{
		OpenTime:   raw.OpenTime,
		CloseTime:  raw.CloseTime,
		Symbol:     raw.Symbol,
		Interval:   raw.Interval,
		TradeCount: raw.TradeCount,
		IsFinal:    raw.IsFinal,
	}
}
