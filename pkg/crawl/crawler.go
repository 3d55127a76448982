// Package crawl discovers the pages of a target site with a bounded
// breadth-first crawl.
package crawl

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/securescan/securescan/db"
	"github.com/securescan/securescan/lib"
	"github.com/securescan/securescan/pkg/fetch"
	"github.com/securescan/securescan/pkg/parse"
	"github.com/securescan/securescan/pkg/scope"
)

// Result is what a finished crawl hands back: the pages fetched and parsed,
// in discovery order, plus coverage statistics.
type Result struct {
	Pages []*parse.Page
	Stats db.CrawlStats
}

// Crawler walks a site breadth-first from a seed URL, visiting only
// in-scope pages and respecting the configured depth and page limits.
type Crawler struct {
	fetcher  *fetch.Fetcher
	scope    *scope.Scope
	maxDepth int
	maxPages int
	onPage   func(page *parse.Page)
	log      zerolog.Logger
}

// NewCrawler builds a Crawler with limits taken from configuration.
func NewCrawler(fetcher *fetch.Fetcher, sc *scope.Scope) *Crawler {
	return &Crawler{
		fetcher:  fetcher,
		scope:    sc,
		maxDepth: viper.GetInt("crawl.max_depth"),
		maxPages: viper.GetInt("crawl.max_pages"),
		log:      log.With().Str("module", "crawl").Logger(),
	}
}

// OnPage registers a callback invoked once per successfully fetched page,
// in discovery order. Used to report crawl progress.
func (c *Crawler) OnPage(fn func(page *parse.Page)) {
	c.onPage = fn
}

type queued struct {
	url   string
	depth int
}

// Crawl runs the breadth-first walk from seedURL. The seed must fetch
// successfully; failures on any later page are logged and skipped. A page
// limit of zero yields an empty result without issuing any request.
func (c *Crawler) Crawl(ctx context.Context, seedURL string) (*Result, error) {
	result := &Result{Pages: []*parse.Page{}}
	if c.maxPages <= 0 {
		return result, nil
	}

	seed, err := lib.CanonicalizeURL(seedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid seed URL %q: %w", seedURL, err)
	}

	visited := map[string]bool{seed: true}
	queue := []queued{{url: seed, depth: 0}}

	for len(queue) > 0 {
		if ctx.Err() != nil {
			result.Stats = c.stats(result.Pages, len(visited))
			return result, ctx.Err()
		}

		entry := queue[0]
		queue = queue[1:]

		// Scope is re-checked at dequeue so a URL scheduled before a
		// config reload never slips through.
		if !c.scope.IsInScope(entry.url) {
			c.log.Debug().Str("url", entry.url).Msg("Dropping out-of-scope URL at dequeue")
			continue
		}

		resp, err := c.fetcher.Fetch(ctx, fetch.Request{URL: entry.url, Method: http.MethodGet})
		if err != nil {
			if entry.url == seed && entry.depth == 0 {
				return nil, fmt.Errorf("seed page unreachable: %w", err)
			}
			c.log.Warn().Err(err).Str("url", entry.url).Msg("Skipping page, fetch failed")
			continue
		}

		page := parse.ParsePage(resp.Body, resp.FinalURL, resp.Headers)
		page.URL = entry.url
		page.Depth = entry.depth
		result.Pages = append(result.Pages, page)
		c.log.Debug().
			Str("url", entry.url).
			Int("depth", entry.depth).
			Int("links", len(page.Links)).
			Int("forms", len(page.Forms)).
			Msg("Crawled page")
		if c.onPage != nil {
			c.onPage(page)
		}

		if entry.depth >= c.maxDepth {
			continue
		}
		for _, link := range page.Links {
			canonical, err := lib.CanonicalizeURL(link)
			if err != nil {
				continue
			}
			if visited[canonical] || !c.scope.IsInScope(canonical) {
				continue
			}
			if len(visited) >= c.maxPages {
				break
			}
			visited[canonical] = true
			queue = append(queue, queued{url: canonical, depth: entry.depth + 1})
		}
	}

	result.Stats = c.stats(result.Pages, len(visited))
	c.log.Info().
		Int("pages", result.Stats.TotalPages).
		Int("forms", result.Stats.TotalForms).
		Int("max_depth", result.Stats.MaxDepthReached).
		Msg("Crawl finished")
	return result, nil
}

func (c *Crawler) stats(pages []*parse.Page, visitedCount int) db.CrawlStats {
	stats := db.CrawlStats{
		TotalPages:  len(pages),
		VisitedUrls: visitedCount,
	}
	for _, page := range pages {
		stats.TotalForms += len(page.Forms)
		stats.TotalLinks += len(page.Links)
		if page.Depth > stats.MaxDepthReached {
			stats.MaxDepthReached = page.Depth
		}
	}
	return stats
}
