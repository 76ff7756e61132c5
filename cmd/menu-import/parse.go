package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/campus-canteen/internal/domain/catalog"
)

const (
	bloomFPR    = 0.001
	maxLineSize = 64 << 10
)

// parsedFile holds the items of one file and a bloom filter of their keys.
type parsedFile struct {
	path   string
	items  []catalog.MenuItem
	filter *bloom.BloomFilter
}

// itemKey identifies an item by its name, ignoring case and spacing.
func itemKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// parseFiles parses files concurrently, keeping their order.
func parseFiles(ctx context.Context, paths []string) ([]parsedFile, error) {
	out := make([]parsedFile, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			f, err := parseFile(ctx, p)
			if err != nil {
				return errors.Wrapf(err, "file %s", p)
			}
			out[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseFile reads one item per line. Blank lines are skipped, as are names
// repeated within the file.
func parseFile(ctx context.Context, path string) (parsedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return parsedFile{}, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return parsedFile{}, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	var (
		items   []catalog.MenuItem
		seen    = make(map[string]struct{})
		lineNo  int
		skipped int
	)
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return parsedFile{}, err
		}
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var m catalog.MenuItem
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return parsedFile{}, errors.Wrapf(err, "line %d", lineNo)
		}
		if m.Name == "" {
			return parsedFile{}, errors.Errorf("line %d: item name is required", lineNo)
		}
		k := itemKey(m.Name)
		if _, ok := seen[k]; ok {
			skipped++
			continue
		}
		seen[k] = struct{}{}
		items = append(items, m)
	}
	if err := scanner.Err(); err != nil {
		return parsedFile{}, errors.Wrap(err, "scan")
	}

	filter := bloom.NewWithEstimates(uint(max(len(items), 1)), bloomFPR)
	for k := range seen {
		filter.AddString(k)
	}

	slog.Info("parsed file",
		slog.String("path", path),
		slog.Int("items", len(items)),
		slog.Int("duplicates", skipped),
	)
	return parsedFile{path: path, items: items, filter: filter}, nil
}

// dedupe keeps the first occurrence of every name across files and drops
// names already on the menu. Only names that a later file's filter may hold
// are tracked exactly.
func dedupe(files []parsedFile, existing []catalog.MenuItem) []catalog.MenuItem {
	taken := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		taken[itemKey(m.Name)] = struct{}{}
	}

	var out []catalog.MenuItem
	for i, f := range files {
		for _, m := range f.items {
			k := itemKey(m.Name)
			if _, ok := taken[k]; ok {
				continue
			}
			if repeatsLater(files[i+1:], k) {
				taken[k] = struct{}{}
			}
			out = append(out, m)
		}
	}
	return out
}

func repeatsLater(files []parsedFile, key string) bool {
	for _, f := range files {
		if f.filter.TestString(key) {
			return true
		}
	}
	return false
}
