// Package collysource implements harvest.Source against the ENCI breeder
// registry using gocolly.
package collysource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/breeder-harvester/internal/harvest"
	"github.com/JakeFAU/breeder-harvester/internal/policy/ratelimit"
)

const (
	defaultTimeout     = 10 * time.Second
	partitionsSelector = `map[name="ENCI_italia_Map"] area`
	signatoryFlag      = "S"
	jsonContentType    = "application/json;charset=utf-8"
	detailQueryParam   = "idAffisso"
)

// Config controls where the registry lives and how requests are made.
type Config struct {
	BaseURL        string           `mapstructure:"base_url"`
	PartitionsPath string           `mapstructure:"partitions_path"`
	ListingPath    string           `mapstructure:"listing_path"`
	DetailPath     string           `mapstructure:"detail_path"`
	UserAgent      string           `mapstructure:"user_agent"`
	RequestTimeout time.Duration    `mapstructure:"request_timeout"`
	RateLimit      ratelimit.Config `mapstructure:"rate_limit"`
}

// DefaultConfig returns the public registry endpoints.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://www.enci.it",
		PartitionsPath: "/allevatori/allevatori-con-affisso?codRegione=PIE",
		ListingPath:    "/umbraco/enci/AllevatoriApi/GetAllevatori",
		DetailPath:     "/umbraco/enci/AllevatoriApi/TakeAllevatore",
		RequestTimeout: defaultTimeout,
		RateLimit:      ratelimit.Config{RPS: 5, Burst: 5},
	}
}

// Source fetches partitions, listings and entity details over HTTP.
type Source struct {
	cfg     Config
	base    *colly.Collector
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New builds a Source. Every call clones the base collector so callbacks
// never leak between concurrent requests.
func New(cfg Config, logger *zap.Logger) (*Source, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.RequestTimeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Source{cfg: cfg, base: c, limiter: ratelimit.New(cfg.RateLimit), logger: logger}, nil
}

// ListPartitions scrapes the region image map of the landing page.
func (s *Source) ListPartitions(ctx context.Context) ([]harvest.Partition, error) {
	var (
		partitions []harvest.Partition
		fetchErr   error
	)
	seen := make(map[string]struct{})
	c := s.collector(&fetchErr)
	c.OnHTML(partitionsSelector, func(e *colly.HTMLElement) {
		key := strings.TrimSpace(e.Attr("data-regione"))
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		partitions = append(partitions, harvest.Partition{Title: strings.TrimSpace(e.Attr("title")), Key: key})
	})
	target := s.endpoint(s.cfg.PartitionsPath)
	if err := s.run(ctx, target, &fetchErr, func() error { return c.Visit(target) }); err != nil {
		return nil, err
	}
	s.logger.Debug("partitions scraped", zap.Int("count", len(partitions)))
	return partitions, nil
}

// ListEntities posts the region filter to the listing API.
func (s *Source) ListEntities(ctx context.Context, partition harvest.Partition) ([]harvest.Entity, error) {
	body, err := json.Marshal(listingRequest{ActiveRegions: []string{partition.Key}, BreedFilter: []string{}})
	if err != nil {
		return nil, fmt.Errorf("encode listing request: %w", err)
	}
	var (
		payload  []byte
		fetchErr error
	)
	c := s.collector(&fetchErr)
	c.OnResponse(func(r *colly.Response) {
		payload = append([]byte(nil), r.Body...)
	})
	hdr := http.Header{}
	hdr.Set("Content-Type", jsonContentType)
	target := s.endpoint(s.cfg.ListingPath)
	err = s.run(ctx, target, &fetchErr, func() error {
		return c.Request(http.MethodPost, target, bytes.NewReader(body), nil, hdr)
	})
	if err != nil {
		return nil, err
	}
	var rows []listingRow
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("decode listing for %s: %w", partition.Key, err)
	}
	return rowsToEntities(rows, partition.Key), nil
}

// FetchEntityDetail retrieves the members and breeds of one breeder.
func (s *Source) FetchEntityDetail(ctx context.Context, entity harvest.Entity) (harvest.PartialResult, error) {
	target, err := url.Parse(s.endpoint(s.cfg.DetailPath))
	if err != nil {
		return harvest.PartialResult{}, fmt.Errorf("detail url: %w", err)
	}
	q := target.Query()
	q.Set(detailQueryParam, entity.ID)
	target.RawQuery = q.Encode()

	var (
		payload  []byte
		fetchErr error
	)
	c := s.collector(&fetchErr)
	c.OnResponse(func(r *colly.Response) {
		payload = append([]byte(nil), r.Body...)
	})
	if err := s.run(ctx, target.String(), &fetchErr, func() error { return c.Visit(target.String()) }); err != nil {
		return harvest.PartialResult{}, err
	}
	var doc detailDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return harvest.PartialResult{}, fmt.Errorf("decode detail for %s: %w", entity.ID, err)
	}
	return doc.toResult(entity.ID), nil
}

func (s *Source) collector(fetchErr *error) *colly.Collector {
	c := s.base.Clone()
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
	return c
}

func (s *Source) endpoint(path string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (s *Source) run(ctx context.Context, target string, fetchErr *error, visit func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("colly fetch canceled: %w", err)
	}
	if err := s.limiter.Wait(ctx, target); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
