// Package extract fetches catalog pages and parses them into stage payloads.
package extract

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/shopharvest/crawler/internal/engine"
)

const defaultFetchTimeout = 15 * time.Second

// FetchResult is the raw outcome of a successful page fetch.
type FetchResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher performs single-page HTTP GETs through a Colly collector. Each
// attempt clones the base collector so per-identity proxy and user-agent
// settings never leak between attempts.
type Fetcher struct {
	base *colly.Collector
}

// NewFetcher builds a Fetcher with pooled connections.
func NewFetcher() *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{base: c}
}

// Fetch retrieves one page under the given identity. Failures are reported
// through the attempt error taxonomy.
func (f *Fetcher) Fetch(ctx context.Context, url string, id engine.Identity) (*FetchResult, error) {
	collector := f.base.Clone()
	if id.UserAgent != "" {
		collector.UserAgent = id.UserAgent
	}
	if id.Proxy != "" {
		if err := collector.SetProxy(id.Proxy); err != nil {
			return nil, engine.NewAttemptError(engine.KindConnectionFailed, err)
		}
	}
	timeout := defaultFetchTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	collector.SetRequestTimeout(timeout)

	var (
		result     *FetchResult
		failStatus int
		failErr    error
	)
	collector.OnResponse(func(r *colly.Response) {
		result = &FetchResult{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			failStatus = r.StatusCode
		}
		failErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, engine.NewAttemptError(engine.KindTimeout, ctx.Err())
	case err := <-done:
		if err == nil && failErr == nil {
			if result == nil {
				return nil, engine.NewAttemptError(engine.KindConnectionFailed, errors.New("no response received"))
			}
			return result, nil
		}
		if failErr == nil {
			failErr = err
		}
		return nil, classifyFetchError(failErr, failStatus)
	}
}

// classifyFetchError maps transport failures onto the attempt taxonomy. A
// response status takes precedence; everything else is a timeout or a
// connection failure.
func classifyFetchError(err error, status int) *engine.AttemptError {
	if status > 0 {
		return engine.NewHTTPStatusError(status, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.NewAttemptError(engine.KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return engine.NewAttemptError(engine.KindTimeout, err)
	}
	return engine.NewAttemptError(engine.KindConnectionFailed, err)
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
		IdleConnTimeout:       90 * time.Second,
	}
}
