// Package fetch downloads remote images so jobs can take a URL as input.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 2 * time.Second
	// MaxBytes bounds a single download.
	MaxBytes = 256 << 20
)

var ErrTooLarge = errors.New("download exceeds size limit")

// ProgressFunc reports bytes received and the expected total (or -1).
type ProgressFunc func(downloaded, total int64)

// IsURL reports whether s is an http or https URL.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Client downloads with retries. The zero value uses http.DefaultClient.
type Client struct {
	HTTP       *http.Client
	Attempts   int
	RetryDelay time.Duration
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// Download fetches rawURL into a new file under dir and returns its path.
// The file keeps the URL's base name behind a unique prefix.
func (c *Client) Download(ctx context.Context, rawURL, dir string, progress ProgressFunc) (string, error) {
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	delay := c.RetryDelay
	if delay == 0 {
		delay = DefaultRetryDelay
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, uuid.NewString()[:8]+"-"+FileName(rawURL))

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.downloadOnce(ctx, rawURL, dest, progress)
		if lastErr == nil {
			return dest, nil
		}
		os.Remove(dest)
		if ctx.Err() != nil || errors.Is(lastErr, ErrTooLarge) || isPermanent(lastErr) {
			return "", lastErr
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return "", fmt.Errorf("download failed after %d attempts: %w", attempts, lastErr)
}

type statusError struct{ code int }

func (e statusError) Error() string { return fmt.Sprintf("bad status: %d %s", e.code, http.StatusText(e.code)) }

// isPermanent is true for client errors other than timeouts and throttling.
func isPermanent(err error) bool {
	var se statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.code >= 400 && se.code < 500 && se.code != http.StatusRequestTimeout && se.code != http.StatusTooManyRequests
}

func (c *Client) downloadOnce(ctx context.Context, rawURL, dest string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError{resp.StatusCode}
	}
	if resp.ContentLength > MaxBytes {
		return ErrTooLarge
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	pw := &progressWriter{w: out, total: resp.ContentLength, fn: progress}
	n, err := io.Copy(pw, io.LimitReader(resp.Body, MaxBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if n > MaxBytes {
		return ErrTooLarge
	}
	if progress != nil {
		progress(n, resp.ContentLength)
	}
	return nil
}

type progressWriter struct {
	w          io.Writer
	done       int64
	total      int64
	fn         ProgressFunc
	lastReport time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	if p.fn != nil && time.Since(p.lastReport) >= 100*time.Millisecond {
		p.fn(p.done, p.total)
		p.lastReport = time.Now()
	}
	return n, err
}

// FileName is the local name for rawURL: the last path segment, or
// "download" when the URL has none.
func FileName(rawURL string) string {
	name := "download"
	if u, err := url.Parse(rawURL); err == nil {
		if b := path.Base(u.Path); b != "" && b != "/" && b != "." {
			name = b
		}
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, name)
}

// FormatBytes formats a byte count for progress lines.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
