package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/marketdata"
)

var klineHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume", "trade_count"}

var tradeHeader = []string{
	"id", "position_id", "symbol", "side", "quality", "entry_price", "exit_price",
	"quantity", "leverage", "pnl", "entry_time", "exit_time", "close_reason",
}

// WriteKlinesToCSV writes klines with decimal fields in plain notation. Bars
// without volume get an empty volume column.
func WriteKlinesToCSV(klines []*domain.Kline, filename string) error {
	return writeCSV(filename, klineHeader, len(klines), func(i int) []string {
		k := klines[i]
		volume := ""
		if k.HasVolume {
			volume = marketdata.FormatDecimal(k.Volume)
		}
		return []string{
			k.OpenTime.UTC().Format(time.RFC3339),
			k.CloseTime.UTC().Format(time.RFC3339),
			k.Symbol,
			string(k.Interval),
			marketdata.FormatDecimal(k.Open),
			marketdata.FormatDecimal(k.High),
			marketdata.FormatDecimal(k.Low),
			marketdata.FormatDecimal(k.Close),
			volume,
			strconv.FormatInt(k.TradeCount, 10),
		}
	})
}

// ReadRawKlinesFromCSV reads klines written by WriteKlinesToCSV without
// interpreting the price columns.
func ReadRawKlinesFromCSV(filename string) ([]domain.RawKline, error) {
	rows, err := readCSV(filename, len(klineHeader))
	if err != nil {
		return nil, err
	}

	raws := make([]domain.RawKline, 0, len(rows))
	for i, row := range rows {
		line := i + 2
		openTime, err := parseTime(row[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: open_time: %w", filename, line, err)
		}
		closeTime, err := parseTime(row[1])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: close_time: %w", filename, line, err)
		}
		var tradeCount int64
		if row[9] != "" {
			tradeCount, err = strconv.ParseInt(row[9], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: trade_count: %w", filename, line, err)
			}
		}
		raws = append(raws, domain.RawKline{
			OpenTime:   openTime,
			CloseTime:  closeTime,
			Symbol:     row[2],
			Interval:   domain.Interval(row[3]),
			Open:       row[4],
			High:       row[5],
			Low:        row[6],
			Close:      row[7],
			Volume:     row[8],
			TradeCount: tradeCount,
			IsFinal:    true,
		})
	}
	return raws, nil
}

// ReadKlinesFromCSV reads klines and rejects any row with a malformed price or
// volume rather than coercing it.
func ReadKlinesFromCSV(filename string) ([]*domain.Kline, error) {
	raws, err := ReadRawKlinesFromCSV(filename)
	if err != nil {
		return nil, err
	}
	klines := make([]*domain.Kline, 0, len(raws))
	for i, raw := range raws {
		k, err := marketdata.NormalizeStrict(raw)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filename, i+2, err)
		}
		klines = append(klines, &k)
	}
	return klines, nil
}

// WriteTradesToCSV writes completed trades.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	return writeCSV(filename, tradeHeader, len(trades), func(i int) []string {
		t := trades[i]
		return []string{
			strconv.FormatInt(t.ID, 10),
			strconv.FormatInt(t.PositionID, 10),
			t.Symbol,
			string(t.Side),
			string(t.Quality),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.Quantity, 'f', -1, 64),
			strconv.Itoa(t.Leverage),
			strconv.FormatFloat(t.PNL, 'f', -1, 64),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			string(t.CloseReason),
		}
	})
}

// ReadTradesFromCSV reads trades written by WriteTradesToCSV.
func ReadTradesFromCSV(filename string) ([]*domain.Trade, error) {
	rows, err := readCSV(filename, len(tradeHeader))
	if err != nil {
		return nil, err
	}

	trades := make([]*domain.Trade, 0, len(rows))
	for i, row := range rows {
		p := rowParser{row: row}
		t := &domain.Trade{
			ID:          p.int64(0),
			PositionID:  p.int64(1),
			Symbol:      row[2],
			Side:        domain.Direction(row[3]),
			Quality:     domain.Quality(row[4]),
			EntryPrice:  p.float(5),
			ExitPrice:   p.float(6),
			Quantity:    p.float(7),
			Leverage:    int(p.int64(8)),
			PNL:         p.float(9),
			EntryTime:   p.time(10),
			ExitTime:    p.time(11),
			CloseReason: domain.CloseReason(row[12]),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filename, i+2, p.err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// rowParser keeps the first conversion error of a row.
type rowParser struct {
	row []string
	err error
}

func (p *rowParser) float(i int) float64 {
	v, err := strconv.ParseFloat(p.row[i], 64)
	p.fail(i, err)
	return v
}

func (p *rowParser) int64(i int) int64 {
	v, err := strconv.ParseInt(p.row[i], 10, 64)
	p.fail(i, err)
	return v
}

func (p *rowParser) time(i int) time.Time {
	v, err := parseTime(p.row[i])
	p.fail(i, err)
	return v
}

func (p *rowParser) fail(i int, err error) {
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", tradeHeader[i], err)
	}
}

// parseTime accepts RFC3339 or Unix milliseconds.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised time %q", s)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func writeCSV(filename string, header []string, n int, row func(int) []string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", filename, err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := writer.Write(row(i)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func readCSV(filename string, columns int) ([][]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = columns
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: missing header", filename)
		}
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return rows, nil
}
