// Package ipecho looks up the host's public IP address through plain-text "what is my IP"
// services, falling through an ordered list of sources.
package ipecho

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// maxBodySize bounds how much of a source's response is read.
const maxBodySize = 1024

// Source returns the current external IP, or false when none could be determined.
type Source interface {
	Fetch(ctx context.Context) (string, bool)
}

// Observer is notified of every source attempt.
type Observer interface {
	RecordIPLookup(source, status string)
}

// Fetcher queries IP-echo endpoints in order and returns the first valid answer
type Fetcher struct {
	sources  []string
	client   *http.Client
	observer Observer
	logger   logrus.FieldLogger
}

// NewFetcher creates a fetcher over the given endpoints. Each request is bounded by timeout.
func NewFetcher(sources []string, timeout time.Duration, observer Observer, logger logrus.FieldLogger) *Fetcher {
	return &Fetcher{
		sources:  sources,
		client:   &http.Client{Timeout: timeout},
		observer: observer,
		logger:   logger,
	}
}

// Fetch tries every source in order. It never returns an error: an unreachable source or one
// answering with anything but a valid address is skipped.
func (f *Fetcher) Fetch(ctx context.Context) (string, bool) {
	for _, source := range f.sources {
		ip, err := f.query(ctx, source)
		if err != nil {
			f.logger.WithError(err).WithField("source", source).Warn("IP source failed")
			f.record(source, "error")
			if ctx.Err() != nil {
				return "", false
			}
			continue
		}
		f.record(source, "success")
		return ip, true
	}
	return "", false
}

func (f *Fetcher) query(ctx context.Context, source string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	ip := strings.TrimSpace(string(body))
	if !IsValid(ip) {
		return "", fmt.Errorf("invalid address %q", ip)
	}
	return ip, nil
}

func (f *Fetcher) record(source, status string) {
	if f.observer != nil {
		f.observer.RecordIPLookup(source, status)
	}
}

// IsValid reports whether s is a syntactically valid IPv4 or IPv6 address.
func IsValid(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return addr.Zone() == ""
}
