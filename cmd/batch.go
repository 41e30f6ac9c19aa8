package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/waste-pipeline/internal/model"
)

var (
	batchDir   string
	batchLimit int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process every supported document in a directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		paths, err := listDocuments(batchDir)
		if err != nil {
			return err
		}

		_, err = processBatch(ctx, paths, batchLimit, cfg.Batch.MaxConcurrentDocuments, func(ctx context.Context, path string) (*model.ProcessingResult, error) {
			doc, err := loadDocument(path)
			if err != nil {
				return nil, err
			}
			return processDocument(ctx, env.Processor, env.Store, doc, "")
		})
		return err
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchDir, "dir", ".", "directory of documents")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of documents to process (0 = all)")
	rootCmd.AddCommand(batchCmd)
}

// listDocuments returns the supported files in dir, sorted by name.
func listDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read dir %s", dir)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || model.FileTypeFromName(e.Name()) == model.FileTypeUnknown {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// processFunc processes one document path.
type processFunc func(ctx context.Context, path string) (*model.ProcessingResult, error)

// batchSummary counts batch outcomes.
type batchSummary struct {
	Approved    int64
	NeedsReview int64
	Errored     int64
	Failed      int64
}

// processBatch applies limit, then processes paths concurrently. A failing
// document is counted and logged; it never stops the rest of the batch.
func processBatch(ctx context.Context, paths []string, limit, concurrency int, fn processFunc) (batchSummary, error) {
	var sum batchSummary
	if len(paths) == 0 {
		zap.L().Info("no documents found")
		return sum, nil
	}
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("documents", len(paths)),
		zap.Int("concurrency", concurrency),
	)

	start := time.Now()
	var approved, review, errored, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, path := range paths {
		g.Go(func() error {
			res, err := fn(gctx, path)
			if err != nil {
				failed.Add(1)
				zap.L().Error("batch: document failed", zap.String("path", path), zap.Error(err))
				return nil
			}
			switch res.Status {
			case model.StatusApproved:
				approved.Add(1)
			case model.StatusNeedsReview:
				review.Add(1)
			default:
				errored.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, eris.Wrap(err, "batch: wait")
	}

	sum = batchSummary{
		Approved:    approved.Load(),
		NeedsReview: review.Load(),
		Errored:     errored.Load(),
		Failed:      failed.Load(),
	}
	zap.L().Info("batch complete",
		zap.Int64("approved", sum.Approved),
		zap.Int64("needs_review", sum.NeedsReview),
		zap.Int64("error", sum.Errored),
		zap.Int64("failed", sum.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return sum, ctx.Err()
}
