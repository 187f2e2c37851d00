package remotecache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/baserock/morph/internal/morpherrors"
)

// Client talks to a remote cache Server (or another HTTP-compatible
// implementation of the same four routes), retrying transient failures with
// exponential backoff rather than a hand-rolled retry loop.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a Client against baseURL (e.g.
// "https://cache.example.org").
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 60 * time.Second}}
}

func (c *Client) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func isPermanent(err error) bool {
	return !morpherrors.Retryable(err)
}

// Has issues HEAD /1.0/artifacts?filename=...
func (c *Client) Has(ctx context.Context, filename string) (bool, error) {
	var found bool
	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url(filename), nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return morpherrors.CacheIOError(filename, err)
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			found = true
			return nil
		case http.StatusNotFound:
			found = false
			return nil
		case http.StatusConflict:
			return morpherrors.CacheIOError(filename, fmt.Errorf("artifact upload in progress"))
		default:
			return morpherrors.CacheIOError(filename, fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
	})
	return found, err
}

// Get issues GET /1.0/artifacts?filename=... and returns the body bytes.
func (c *Client) Get(ctx context.Context, filename string) ([]byte, error) {
	var body []byte
	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(filename), nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return morpherrors.CacheIOError(filename, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return morpherrors.CacheIOError(filename, fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	return body, err
}

// Put uploads artifact bytes as filename via POST /1.0/artifacts.
func (c *Client) Put(ctx context.Context, filename string, data []byte) error {
	return c.retry(ctx, func() error {
		buf := &bytes.Buffer{}
		mw := multipart.NewWriter(buf)
		part, err := mw.CreateFormFile("artifact", filename)
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
		mw.Close()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/1.0/artifacts", buf)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		resp, err := c.http.Do(req)
		if err != nil {
			return morpherrors.CacheIOError(filename, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
			return morpherrors.CacheIOError(filename, fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		return nil
	})
}

func (c *Client) url(filename string) string {
	return fmt.Sprintf("%s/1.0/artifacts?filename=%s", c.baseURL, filename)
}
