// Package layout resolves series and partition keys to filesystem paths.
//
// Partitioned series live under
//
//	<root>/<market>/<source>/<dataset>/symbol=<SYM>/year=YYYY/month=MM[/day=DD]/data.parquet
//
// and legacy series under
//
//	<root>/<dataset>/<SYMBOL>.parquet
//
// The resolver is pure string work plus directory listing; it never creates
// or writes files.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/feedvault/feedvault/internal/storage/types"
	"github.com/feedvault/feedvault/internal/validation"
)

// DataFileName is the name of the data file inside a partition directory.
const DataFileName = "data.parquet"

// legacyExt is the extension of legacy flat files.
const legacyExt = ".parquet"

// Resolver maps series and partition keys to paths under a data root.
type Resolver struct {
	root string
}

// NewResolver creates a resolver rooted at the given data directory.
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Root returns the data root directory.
func (r *Resolver) Root() string {
	return r.root
}

// ValidateSeries checks that a series key can be resolved to a path.
// Market and source must be both present or both absent; a half-empty
// scope is never guessed at.
func (r *Resolver) ValidateSeries(key types.SeriesKey) error {
	if err := validation.ValidateSymbol(key.Symbol); err != nil {
		return err
	}
	if !key.Interval.Valid() {
		return fmt.Errorf("invalid interval: %s", key.Interval)
	}
	if (key.Market == "") != (key.Source == "") {
		return fmt.Errorf("series %s: market and source must be set together", key.Symbol)
	}
	if key.Legacy() {
		return nil
	}
	if err := validation.ValidateMarket(key.Market); err != nil {
		return err
	}
	if err := validation.ValidateSource(key.Source); err != nil {
		return err
	}
	return nil
}

// SymbolDir returns the directory holding all partitions of a series.
func (r *Resolver) SymbolDir(key types.SeriesKey) (string, error) {
	if err := r.ValidateSeries(key); err != nil {
		return "", err
	}
	if key.Legacy() {
		return "", fmt.Errorf("series %s: legacy series have no symbol directory", key.Symbol)
	}
	if !key.Interval.Partitioned() {
		return "", fmt.Errorf("interval %s is stored in the legacy layout only", key.Interval)
	}
	return filepath.Join(r.root, key.Market, key.Source, key.Dataset(), "symbol="+key.Symbol), nil
}

// PartitionDir returns the directory of one partition.
func (r *Resolver) PartitionDir(key types.PartitionKey) (string, error) {
	symbolDir, err := r.SymbolDir(key.Series)
	if err != nil {
		return "", err
	}
	if key.Year < 1 || key.Month < time.January || key.Month > time.December {
		return "", fmt.Errorf("invalid partition date year=%d month=%d", key.Year, int(key.Month))
	}
	g := key.Series.Interval.Granularity()
	switch g {
	case types.GranularityMonth:
		if key.Day != 0 {
			return "", fmt.Errorf("interval %s uses month partitions, day must be zero", key.Series.Interval)
		}
	case types.GranularityDay:
		if key.Day < 1 || key.Day > 31 {
			return "", fmt.Errorf("invalid partition day %d", key.Day)
		}
	}
	dir := filepath.Join(symbolDir,
		fmt.Sprintf("year=%04d", key.Year),
		fmt.Sprintf("month=%02d", int(key.Month)))
	if g == types.GranularityDay {
		dir = filepath.Join(dir, fmt.Sprintf("day=%02d", key.Day))
	}
	return dir, nil
}

// PartitionFile returns the data file path of one partition.
func (r *Resolver) PartitionFile(key types.PartitionKey) (string, error) {
	dir, err := r.PartitionDir(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DataFileName), nil
}

// LegacyFile returns the flat-layout file path of a series. The scope of the
// key is ignored; legacy files live directly under the data root.
func (r *Resolver) LegacyFile(key types.SeriesKey) (string, error) {
	if err := validation.ValidateSymbol(key.Symbol); err != nil {
		return "", err
	}
	if !key.Interval.Valid() {
		return "", fmt.Errorf("invalid interval: %s", key.Interval)
	}
	return filepath.Join(r.root, key.Dataset(), key.Symbol+legacyExt), nil
}

// PartitionGlob returns the glob matching every data file of a partitioned
// series, suitable for read_parquet.
func (r *Resolver) PartitionGlob(key types.SeriesKey) (string, error) {
	symbolDir, err := r.SymbolDir(key)
	if err != nil {
		return "", err
	}
	switch key.Interval.Granularity() {
	case types.GranularityDay:
		return filepath.Join(symbolDir, "year=*", "month=*", "day=*", DataFileName), nil
	default:
		return filepath.Join(symbolDir, "year=*", "month=*", DataFileName), nil
	}
}

// =============================================================================
// Listing
// =============================================================================

// ListPartitions returns every existing partition of a series in ascending
// time order. Directory entries that do not parse as partition segments are
// skipped.
func (r *Resolver) ListPartitions(key types.SeriesKey) ([]types.PartitionKey, error) {
	symbolDir, err := r.SymbolDir(key)
	if err != nil {
		return nil, err
	}

	g := key.Interval.Granularity()
	var keys []types.PartitionKey

	years, err := listSegmentDirs(symbolDir, "year")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	for _, y := range years {
		yearDir := filepath.Join(symbolDir, y.name)
		months, err := listSegmentDirs(yearDir, "month")
		if err != nil {
			continue
		}
		for _, m := range months {
			if m.value < 1 || m.value > 12 {
				continue
			}
			monthDir := filepath.Join(yearDir, m.name)
			if g == types.GranularityMonth {
				if !fileExists(filepath.Join(monthDir, DataFileName)) {
					continue
				}
				keys = append(keys, types.PartitionKey{
					Series: key,
					Year:   y.value,
					Month:  time.Month(m.value),
				})
				continue
			}
			days, err := listSegmentDirs(monthDir, "day")
			if err != nil {
				continue
			}
			for _, d := range days {
				if d.value < 1 || d.value > 31 {
					continue
				}
				if !fileExists(filepath.Join(monthDir, d.name, DataFileName)) {
					continue
				}
				keys = append(keys, types.PartitionKey{
					Series: key,
					Year:   y.value,
					Month:  time.Month(m.value),
					Day:    d.value,
				})
			}
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Year != keys[j].Year {
			return keys[i].Year < keys[j].Year
		}
		if keys[i].Month != keys[j].Month {
			return keys[i].Month < keys[j].Month
		}
		return keys[i].Day < keys[j].Day
	})

	return keys, nil
}

// ListLegacySymbols returns the symbols that have a legacy flat file for the
// given interval, sorted ascending.
func (r *Resolver) ListLegacySymbols(interval types.Interval) ([]string, error) {
	dir := filepath.Join(r.root, interval.Dataset())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != legacyExt {
			continue
		}
		symbol := strings.TrimSuffix(name, legacyExt)
		if validation.ValidateSymbol(symbol) != nil {
			continue
		}
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)
	return symbols, nil
}

// ListPartitionedSymbols returns the symbols that have a symbol directory in
// the partitioned layout for the given scope and interval, sorted ascending.
func (r *Resolver) ListPartitionedSymbols(market, source string, interval types.Interval) ([]string, error) {
	dir := filepath.Join(r.root, market, source, interval.Dataset())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "symbol=") {
			continue
		}
		symbol := strings.TrimPrefix(name, "symbol=")
		if validation.ValidateSymbol(symbol) != nil {
			continue
		}
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)
	return symbols, nil
}

// =============================================================================
// Helpers
// =============================================================================

// segmentDir is one parsed key=value directory entry.
type segmentDir struct {
	name  string
	value int
}

// listSegmentDirs lists subdirectories named <prefix>=<number>, sorted by number.
func listSegmentDirs(dir, prefix string) ([]segmentDir, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var dirs []segmentDir
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"=") {
			continue
		}
		value, err := strconv.Atoi(strings.TrimPrefix(name, prefix+"="))
		if err != nil {
			continue
		}
		dirs = append(dirs, segmentDir{name: name, value: value})
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].value < dirs[j].value })
	return dirs, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
