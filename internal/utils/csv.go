package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"cryptoSignalBot/internal/domain"
)

var candleHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

// WriteCandlesToCSV writes candles with an RFC3339 header row.
func WriteCandlesToCSV(candles []domain.Candle, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteCandles(file, candles)
}

// WriteCandles writes candles in CSV form to w.
func WriteCandles(w io.Writer, candles []domain.Candle) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(candleHeader); err != nil {
		return err
	}
	for _, k := range candles {
		if err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339Nano),
			k.CloseTime.UTC().Format(time.RFC3339Nano),
			k.Symbol,
			k.Interval,
			strconv.FormatFloat(k.Open, 'f', -1, 64),
			strconv.FormatFloat(k.High, 'f', -1, 64),
			strconv.FormatFloat(k.Low, 'f', -1, 64),
			strconv.FormatFloat(k.Close, 'f', -1, 64),
			strconv.FormatFloat(k.Volume, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadCandlesFromCSV loads a file written by WriteCandlesToCSV.
func ReadCandlesFromCSV(filename string) ([]domain.Candle, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadCandles(file)
}

// ReadCandles parses CSV candles and returns them sorted by open time.
func ReadCandles(r io.Reader) ([]domain.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(candleHeader)

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading candle csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if rows[0][0] == candleHeader[0] {
		rows = rows[1:]
	}

	candles := make([]domain.Candle, 0, len(rows))
	for i, row := range rows {
		c, err := parseCandleRow(row)
		if err != nil {
			return nil, fmt.Errorf("candle csv row %d: %w", i+1, err)
		}
		candles = append(candles, c)
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })
	return candles, nil
}

func parseCandleRow(row []string) (domain.Candle, error) {
	openTime, err := time.Parse(time.RFC3339Nano, row[0])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("open_time: %w", err)
	}
	closeTime, err := time.Parse(time.RFC3339Nano, row[1])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("close_time: %w", err)
	}
	var values [5]float64
	for i := range values {
		values[i], err = strconv.ParseFloat(row[4+i], 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("%s: %w", candleHeader[4+i], err)
		}
	}
	return domain.Candle{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Symbol:    row[2],
		Interval:  row[3],
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		IsFinal:   true,
	}, nil
}
