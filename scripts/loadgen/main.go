// Command loadgen drives sample traffic against a tickstat server so the
// statistics, history and live feed have something to show.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/tickstat/internal/httpclient"
	"github.com/torosent/tickstat/internal/output"
)

var paths = []string{
	"/api/ping",
	"/api/ping",
	"/api/stats",
	"/api/stats/history?type=times&limit=10",
	"/api/stats/history?type=bogus",
	"/missing",
}

func main() {
	base := flag.String("url", "http://localhost:8080", "Base URL of the tickstat server")
	rps := flag.Float64("rate", 50, "Requests per second across all workers")
	workers := flag.Int("workers", 4, "Concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "How long to run (0 runs until interrupted)")
	flag.Parse()

	if *workers <= 0 || *rps <= 0 {
		log.Fatalf("workers and rate must be > 0")
	}
	target := strings.TrimRight(*base, "/")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, *duration)
		defer stop()
	}

	client := httpclient.NewClient(5 * time.Second)
	limiter := rate.NewLimiter(rate.Limit(*rps), *workers)

	var sent, failed int64
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				path := paths[rnd.Intn(len(paths))]
				if err := hit(ctx, client, target+path); err != nil {
					if ctx.Err() != nil {
						return
					}
					atomic.AddInt64(&failed, 1)
				}
				atomic.AddInt64(&sent, 1)
			}
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()

	fmt.Printf("Sent %d requests (%d transport errors)\n", atomic.LoadInt64(&sent), atomic.LoadInt64(&failed))

	stats, err := httpclient.NewStatsClient(target, httpclient.Options{Timeout: 5 * time.Second})
	if err != nil {
		log.Fatal(err)
	}
	summary, err := stats.Summary(context.Background())
	if err != nil {
		log.Fatalf("fetch summary: %v", err)
	}
	output.PrintSummary(os.Stdout, summary)
}

func hit(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}
