package scan

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/securescan/securescan/db"
	"github.com/securescan/securescan/pkg/crawl"
	"github.com/securescan/securescan/pkg/fetch"
	"github.com/securescan/securescan/pkg/parse"
	"github.com/securescan/securescan/pkg/scan/progress"
	"github.com/securescan/securescan/pkg/scan/worker"
	"github.com/securescan/securescan/pkg/scope"
)

// Store is the persistence surface the engine needs for scan records.
// *db.DatabaseConnection satisfies it.
type Store interface {
	UpdateScanStatus(id string, status db.ScanStatus) error
	SaveScanResult(scan *db.Scan) error
}

// Engine owns scan lifecycles: it drives the crawl, fans pages out to the
// worker pool, aggregates per-page results and publishes progress.
type Engine struct {
	store      Store
	bus        *progress.Bus
	background conc.WaitGroup
	log        zerolog.Logger
}

// NewEngine builds an Engine around a store and a progress bus.
func NewEngine(store Store, bus *progress.Bus) *Engine {
	return &Engine{
		store: store,
		bus:   bus,
		log:   log.With().Str("module", "engine").Logger(),
	}
}

// StartBackground runs a scan on its own goroutine and returns
// immediately. Used by the API handler so scan creation stays fast.
func (e *Engine) StartBackground(scan *db.Scan) {
	e.background.Go(func() {
		if err := e.Run(context.Background(), scan); err != nil {
			e.log.Error().Err(err).Str("scan", scan.ID).Msg("Scan ended with error")
		}
	})
}

// Wait blocks until every background scan has finished.
func (e *Engine) Wait() {
	e.background.Wait()
}

// pageExecutor plugs the page scanner into the worker pool.
type pageExecutor struct {
	scanner *Scanner
}

func (p pageExecutor) Execute(ctx context.Context, page *parse.Page) (*worker.Outcome, error) {
	result, err := p.scanner.ScanPage(ctx, page)
	if err != nil {
		return nil, err
	}
	return &worker.Outcome{
		Findings:        result.Findings,
		FormsFound:      result.FormsFound,
		EndpointsTested: result.EndpointsTested,
	}, nil
}

// Run executes one scan to a terminal state, mutating and persisting the
// given record. The scan moves pending → crawling → scanning → completed;
// a seed that cannot be fetched fails the scan with a synthetic finding.
func (e *Engine) Run(ctx context.Context, scan *db.Scan) error {
	logger := e.log.With().Str("scan", scan.ID).Str("url", scan.URL).Logger()
	startTime := time.Now()

	sc, err := scope.NewScope(scan.URL)
	if err != nil {
		return e.fail(scan, startTime, err)
	}
	fetcher := fetch.NewFetcher(fetch.Options{ScopeCheck: sc.IsInScope})

	scan.Status = db.ScanStatusCrawling
	if err := e.store.UpdateScanStatus(scan.ID, db.ScanStatusCrawling); err != nil {
		logger.Error().Err(err).Msg("Could not persist scan status")
	}
	e.publish(scan, startTime, 0, 0, -1)

	crawler := crawl.NewCrawler(fetcher, sc)
	pagesFound := 0
	crawler.OnPage(func(page *parse.Page) {
		pagesFound++
		e.publish(scan, startTime, crawlProgress(pagesFound), 0, -1)
	})

	crawlResult, err := crawler.Crawl(ctx, scan.URL)
	if err != nil {
		logger.Warn().Err(err).Msg("Crawl failed, marking scan failed")
		return e.fail(scan, startTime, err)
	}
	scan.CrawlStats = crawlResult.Stats
	logger.Info().Int("pages", len(crawlResult.Pages)).Msg("Crawl complete, scanning pages")

	scan.Status = db.ScanStatusScanning
	if err := e.store.UpdateScanStatus(scan.ID, db.ScanStatusScanning); err != nil {
		logger.Error().Err(err).Msg("Could not persist scan status")
	}

	totalPages := len(crawlResult.Pages)
	e.publish(scan, startTime, scanProgress(0, totalPages), totalPages, -1)

	pool := worker.NewPool(pageExecutor{scanner: NewScanner(fetcher)})
	defer pool.Shutdown()

	// Results are merged onto one channel so aggregation happens in task
	// completion order with a single writer owning the counters.
	results := make(chan *worker.Result)
	var forwarders conc.WaitGroup
	for i, page := range crawlResult.Pages {
		ch, err := pool.Submit(&worker.Task{ID: worker.PageTaskID(scan.ID, i), Priority: 1, Page: page})
		if err != nil {
			logger.Error().Err(err).Msg("Could not submit scan task")
			totalPages--
			continue
		}
		forwarders.Go(func() {
			results <- <-ch
		})
	}
	go func() {
		forwarders.Wait()
		close(results)
	}()

	scanStart := time.Now()
	for result := range results {
		scan.PagesScanned++
		if result.Err != nil {
			logger.Warn().Err(result.Err).Str("page", result.Task.Page.URL).Bool("crashed", result.Crashed).
				Msg("Page task failed, counting it as settled with no findings")
		} else {
			scan.Vulnerabilities = append(scan.Vulnerabilities, result.Outcome.Findings...)
			scan.FormsFound += result.Outcome.FormsFound
			scan.EndpointsTested += result.Outcome.EndpointsTested
		}
		e.publish(scan, startTime,
			scanProgress(scan.PagesScanned, totalPages), totalPages,
			estimateRemaining(scanStart, scan.PagesScanned, totalPages))
	}

	scan.Status = db.ScanStatusCompleted
	now := time.Now()
	scan.CompletedAt = &now
	if err := e.store.SaveScanResult(scan); err != nil {
		logger.Error().Err(err).Msg("Could not persist scan result")
	}
	e.publishFinal(scan, startTime)
	// The final state lives in the store now; the cached event would only
	// keep the bus growing.
	e.bus.Forget(scan.ID)
	logger.Info().
		Int("pages", scan.PagesScanned).
		Int("findings", len(scan.Vulnerabilities)).
		Int("endpoints", scan.EndpointsTested).
		Dur("elapsed", time.Since(startTime)).
		Msg("Scan completed")
	return nil
}

// fail moves the scan to its failed terminal state with the synthetic
// explanatory finding, persists it and broadcasts the error.
func (e *Engine) fail(scan *db.Scan, startTime time.Time, cause error) error {
	scan.Status = db.ScanStatusFailed
	scan.Vulnerabilities = append(scan.Vulnerabilities, db.NewFinding(
		"Scan Error",
		db.CategoryInfoDisclosure,
		db.SeverityLow,
		"Unable to scan the target",
		scan.URL,
		"The target could not be reached, so no vulnerabilities were assessed",
	))
	now := time.Now()
	scan.CompletedAt = &now
	if err := e.store.SaveScanResult(scan); err != nil {
		e.log.Error().Err(err).Str("scan", scan.ID).Msg("Could not persist failed scan")
	}

	e.bus.Publish(progress.Event{
		ScanID:                 scan.ID,
		Status:                 db.ScanStatusFailed,
		Progress:               0,
		VulnerabilitiesFound:   len(scan.Vulnerabilities),
		EstimatedTimeRemaining: -1,
		StartTime:              startTime,
		CurrentStage:           string(db.ScanStatusFailed),
		Vulnerabilities:        scan.Vulnerabilities,
		Error:                  cause.Error(),
	})
	e.bus.Forget(scan.ID)
	return cause
}

func (e *Engine) publish(scan *db.Scan, startTime time.Time, pct, totalPages, remaining int) {
	e.bus.Publish(progress.Event{
		ScanID:                 scan.ID,
		Status:                 scan.Status,
		Progress:               pct,
		PagesScanned:           scan.PagesScanned,
		TotalPages:             totalPages,
		VulnerabilitiesFound:   len(scan.Vulnerabilities),
		FormsFound:             scan.FormsFound,
		EndpointsTested:        scan.EndpointsTested,
		EstimatedTimeRemaining: remaining,
		StartTime:              startTime,
		CurrentStage:           string(scan.Status),
	})
}

// publishFinal carries the full finding list so subscribers get results
// without a follow-up API call.
func (e *Engine) publishFinal(scan *db.Scan, startTime time.Time) {
	e.bus.Publish(progress.Event{
		ScanID:                 scan.ID,
		Status:                 scan.Status,
		Progress:               100,
		PagesScanned:           scan.PagesScanned,
		TotalPages:             scan.PagesScanned,
		VulnerabilitiesFound:   len(scan.Vulnerabilities),
		FormsFound:             scan.FormsFound,
		EndpointsTested:        scan.EndpointsTested,
		EstimatedTimeRemaining: 0,
		StartTime:              startTime,
		CurrentStage:           string(scan.Status),
		Vulnerabilities:        scan.Vulnerabilities,
	})
}

// crawlProgress pins the crawl phase at the first 30% of the bar.
func crawlProgress(pagesFound int) int {
	if pagesFound < 1 {
		return 0
	}
	return 30
}

// scanProgress maps scanned pages onto the remaining 70% of the bar; it
// only reaches 100 when every page has settled.
func scanProgress(pagesScanned, totalPages int) int {
	if totalPages < 1 {
		return 30
	}
	return 30 + int(math.Round(float64(pagesScanned)/float64(totalPages)*70))
}

// estimateRemaining projects the scan phase's average page time onto the
// pages still outstanding, in whole seconds.
func estimateRemaining(scanStart time.Time, pagesScanned, totalPages int) int {
	if pagesScanned < 1 || totalPages <= pagesScanned {
		return 0
	}
	perPage := time.Since(scanStart) / time.Duration(pagesScanned)
	return int((perPage * time.Duration(totalPages-pagesScanned)).Round(time.Second).Seconds())
}
