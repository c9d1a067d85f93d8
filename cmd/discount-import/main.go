// Command discount-import loads discount code campaigns from gzip
// compressed CSV files.
//
// A code defined in more than one file is ambiguous and is not imported.
// Pass 1 builds a bloom filter per file; pass 2 streams the files again,
// writes codes that no other filter contains straight to the database, and
// holds back the few that might collide until every file has been read.
package main

import (
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/discount"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	batchSize     = 1000
	maxFiles      = 64
)

// Writer persists a batch of code definitions.
type Writer interface {
	UpsertDiscounts(ctx context.Context, codes []discount.Code) (int64, error)
}

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		dryRun      bool
	)

	_ = godotenv.Load()

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing campaign files")
	flag.StringVar(&pattern, "pattern", "*.csv.gz", "campaign file glob inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and de-duplicate without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err == nil && len(files) == 0 {
		err = errors.Errorf("no files match %s in %s", pattern, dataDir)
	}
	if err == nil && len(files) > maxFiles {
		err = errors.Errorf("%d files, at most %d supported", len(files), maxFiles)
	}
	if err != nil {
		slog.Error("discount import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var w Writer = discardWriter{}
	if !dryRun {
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			slog.Error("connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()
		w = postgres.NewSeeder(postgres.NewStore(pool))
	}

	stats, err := run(ctx, files, w)
	if err != nil {
		slog.Error("discount import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("discount import completed",
		slog.Int64("written", stats.written),
		slog.Int("ambiguous", stats.ambiguous),
		slog.Int("malformed", stats.malformed),
	)
}

type discardWriter struct{}

func (discardWriter) UpsertDiscounts(_ context.Context, codes []discount.Code) (int64, error) {
	return int64(len(codes)), nil
}

type stats struct {
	written   int64
	ambiguous int
	malformed int
}

func run(ctx context.Context, files []string, w Writer) (stats, error) {
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
	filters, malformed, err := buildFilters(ctx, files)
	if err != nil {
		return stats{}, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: writing unique codes")
	res, err := writeUnique(ctx, files, filters, w)
	if err != nil {
		return stats{}, errors.Wrap(err, "write unique codes")
	}
	res.malformed = malformed

	// Candidates seen in only one file were bloom false positives.
	var late []discount.Code
	for code, c := range res.candidates {
		if bits.OnesCount64(c.files) >= 2 {
			res.ambiguous++
			slog.Warn("code defined in several files, skipped", slog.String("code", code))
			continue
		}
		late = append(late, c.def)
	}
	for start := 0; start < len(late); start += batchSize {
		n, err := w.UpsertDiscounts(ctx, late[start:min(start+batchSize, len(late))])
		if err != nil {
			return stats{}, errors.Wrap(err, "write candidate codes")
		}
		res.written += n
	}
	return res.stats, nil
}

func buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, int, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	malformed := make([]int, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count int
			skipped, err := streamFile(ctx, path, func(c discount.Code) error {
				filter.AddString(c.Code)
				count++
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "file %s", path)
			}
			slog.Info("pass 1 complete", slog.String("file", path), slog.Int("codes", count), slog.Int("malformed", skipped))
			filters[i] = filter
			malformed[i] = skipped
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var total int
	for _, n := range malformed {
		total += n
	}
	return filters, total, nil
}

type candidate struct {
	def   discount.Code
	files uint64
}

type pass2 struct {
	stats
	candidates map[string]candidate
}

func writeUnique(ctx context.Context, files []string, filters []*bloom.BloomFilter, w Writer) (pass2, error) {
	var (
		mu  sync.Mutex
		res = pass2{candidates: make(map[string]candidate)}
	)

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			bit := uint64(1) << uint(i)
			batch := make([]discount.Code, 0, batchSize)
			local := make(map[string]candidate)
			var written int64

			flush := func() error {
				if len(batch) == 0 {
					return nil
				}
				n, err := w.UpsertDiscounts(ctx, batch)
				written += n
				batch = batch[:0]
				return err
			}

			_, err := streamFile(ctx, path, func(c discount.Code) error {
				if inOtherFile(filters, i, c.Code) {
					local[c.Code] = candidate{def: c, files: bit}
					return nil
				}
				batch = append(batch, c)
				if len(batch) == batchSize {
					return flush()
				}
				return nil
			})
			if err == nil {
				err = flush()
			}
			if err != nil {
				return errors.Wrapf(err, "file %s", path)
			}

			mu.Lock()
			defer mu.Unlock()
			res.written += written
			for code, c := range local {
				prev := res.candidates[code]
				c.files |= prev.files
				res.candidates[code] = c
			}
			slog.Info("pass 2 complete", slog.String("file", path), slog.Int64("written", written), slog.Int("held_back", len(local)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pass2{}, err
	}
	return res, nil
}

func inOtherFile(filters []*bloom.BloomFilter, self int, code string) bool {
	for j, f := range filters {
		if j != self && f.TestString(code) {
			return true
		}
	}
	return false
}
