package marketdata

import (
	"context"
	"encoding/csv"
	"io"
	"iter"
	"os"
	"strconv"
	"time"

	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// ReplayProvider streams recorded bars from a CSV file in file order. The
// expected header is: symbol,time,open,high,low,close,volume with RFC 3339
// timestamps.
type ReplayProvider struct {
	path string
}

// NewReplayProvider creates a provider replaying the given CSV file.
func NewReplayProvider(path string) *ReplayProvider {
	return &ReplayProvider{path: path}
}

// Name implements Provider.
func (p *ReplayProvider) Name() string {
	return "replay"
}

// Stream implements Provider.
func (p *ReplayProvider) Stream(ctx context.Context, symbols []string) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		file, err := os.Open(p.path)
		if err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to open replay file", err))
			return
		}
		defer file.Close()

		wanted := make(map[string]bool, len(symbols))
		for _, symbol := range symbols {
			wanted[symbol] = true
		}

		reader := csv.NewReader(file)
		header := true
		for {
			if ctx.Err() != nil {
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				if !yield(types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "malformed replay row", err)) {
					return
				}
				continue
			}
			if header {
				header = false
				continue
			}

			bar, err := parseBar(record)
			if err != nil {
				if !yield(types.Bar{}, err) {
					return
				}
				continue
			}
			if len(wanted) > 0 && !wanted[bar.Symbol] {
				continue
			}
			if !yield(bar, nil) {
				return
			}
		}
	}
}

func parseBar(record []string) (types.Bar, error) {
	if len(record) != 7 {
		return types.Bar{}, errors.Newf(errors.ErrCodeMarketDataParseFailed, "expected 7 columns, got %d", len(record))
	}

	timestamp, err := time.Parse(time.RFC3339, record[1])
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "invalid timestamp", err)
	}

	values := make([]float64, 5)
	for i, raw := range record[2:] {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return types.Bar{}, errors.Wrapf(errors.ErrCodeMarketDataParseFailed, err, "invalid numeric column %d", i+2)
		}
		values[i] = value
	}

	return types.Bar{
		Symbol: record[0],
		Time:   timestamp.UTC(),
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}
