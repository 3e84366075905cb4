// Command pagevaultctl drives a BufferPoolManager against a file on disk,
// for manual smoke-testing and quick throughput checks. It is not a query
// shell: that surface remains out of scope for this module.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pagevault-db/pagevault/internal/storage/buffer"
	"github.com/pagevault-db/pagevault/internal/storage/page"
)

func main() {
	dbPath := flag.String("db", "pagevault.db", "path to the backing page file")
	poolSize := flag.Int("pool-size", 64, "number of frames in the buffer pool")
	replacerK := flag.Int("k", 2, "the k in LRU-K")
	numPages := flag.Int("pages", 200, "number of pages to allocate before the access loop")
	numAccesses := flag.Int("accesses", 5000, "number of fetch/unpin cycles to run")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			log.Fatalf("failed to build logger: %v", err)
		}
		logger = l
	}
	defer logger.Sync()

	ctx := context.Background()
	dm, err := page.NewDiskManager(ctx, *dbPath)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *dbPath, err)
	}

	reg := prometheus.NewRegistry()
	bpm, err := buffer.New(ctx, buffer.Config{
		PoolSize:  *poolSize,
		ReplacerK: *replacerK,
		DBPath:    *dbPath,
	}, dm, buffer.WithLogger(logger), buffer.WithMetrics(reg))
	if err != nil {
		log.Fatalf("failed to construct buffer pool manager: %v", err)
	}
	defer func() {
		if err := bpm.Close(ctx); err != nil {
			log.Fatalf("failed to close buffer pool: %v", err)
		}
	}()

	// Each page gets a single slotted record so the access loop below has
	// something realistic to read and rewrite, rather than poking raw
	// bytes directly into the frame buffer.
	pageIDs := make([]page.PageID, 0, *numPages)
	for i := 0; i < *numPages; i++ {
		pageID, data, err := bpm.NewPage(ctx)
		if err != nil {
			log.Fatalf("failed to allocate page %d: %v", i, err)
		}
		sp := page.NewSlottedPage(data)
		sp.Init()
		if _, err := sp.InsertTuple([]byte(fmt.Sprintf("row-%d", i))); err != nil {
			log.Fatalf("failed to insert tuple into page %d: %v", i, err)
		}
		pageIDs = append(pageIDs, pageID)
		bpm.UnpinPage(pageID, true)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()
	for i := 0; i < *numAccesses; i++ {
		pageID := pageIDs[rng.Intn(len(pageIDs))]
		data, err := bpm.FetchPage(ctx, pageID)
		if err != nil {
			log.Fatalf("access %d: failed to fetch page %d: %v", i, pageID, err)
		}
		sp := page.NewSlottedPage(data)
		if err := sp.SetTupleAsUnused(0); err != nil {
			log.Fatalf("access %d: failed to free slot 0 on page %d: %v", i, pageID, err)
		}
		if _, err := sp.InsertTuple([]byte(fmt.Sprintf("row-%d-access-%d", pageID, i))); err != nil {
			log.Fatalf("access %d: failed to rewrite tuple on page %d: %v", i, pageID, err)
		}
		bpm.UnpinPage(pageID, true)
	}
	elapsed := time.Since(start)

	metrics, err := reg.Gather()
	if err != nil {
		log.Fatalf("failed to gather metrics: %v", err)
	}
	fmt.Fprintf(os.Stdout, "instance=%s pages=%d accesses=%d elapsed=%s\n",
		bpm.InstanceID(), len(pageIDs), *numAccesses, elapsed)
	for _, mf := range metrics {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(os.Stdout, "  %s %v\n", mf.GetName(), m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Fprintf(os.Stdout, "  %s %v\n", mf.GetName(), m.GetGauge().GetValue())
			}
		}
	}
}
