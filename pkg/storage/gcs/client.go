// Package gcs stores objects in a Google Cloud Storage bucket through the
// JSON API, authenticating with golang.org/x/oauth2.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/kayakoyan/marketplace-backend/pkg/config"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
	"github.com/kayakoyan/marketplace-backend/pkg/storage"
)

const (
	scope       = "https://www.googleapis.com/auth/devstorage.read_write"
	apiBase     = "https://storage.googleapis.com/storage/v1"
	uploadBase  = "https://storage.googleapis.com/upload/storage/v1"
	publicBase  = "https://storage.googleapis.com"
	pingTimeout = 5 * time.Second
)

type Client struct {
	httpClient *http.Client
	bucket     string
	apiBase    string
	uploadBase string
}

func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	ts, err := tokenSource(ctx, gcp)
	if err != nil {
		return nil, err
	}
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = 30 * time.Second

	client := newClient(httpClient, cfg.BucketName, apiBase, uploadBase)
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.BucketName), "gcs client initialized")
	}
	return client, nil
}

func newClient(httpClient *http.Client, bucket, api, upload string) *Client {
	return &Client{httpClient: httpClient, bucket: bucket, apiBase: api, uploadBase: upload}
}

func tokenSource(ctx context.Context, gcp config.GCPConfig) (oauth2.TokenSource, error) {
	var raw []byte
	switch {
	case gcp.CredentialsJSON != "":
		raw = []byte(gcp.CredentialsJSON)
	case gcp.ApplicationCredentials != "":
		b, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		raw = b
	default:
		return google.DefaultTokenSource(ctx, scope)
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, scope)
	if err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	return creds.TokenSource, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	u := fmt.Sprintf("%s/b/%s/o?maxResults=1", c.apiBase, url.PathEscape(c.bucket))
	resp, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return err
	}
	return drain(resp)
}

func (c *Client) Put(ctx context.Context, path string, body io.Reader, contentType string) error {
	u := fmt.Sprintf("%s/b/%s/o?uploadType=media&name=%s", c.uploadBase, url.PathEscape(c.bucket), url.QueryEscape(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	resp, err := c.do(ctx, http.MethodPost, u, body, contentType)
	if err != nil {
		return err
	}
	return drain(resp)
}

func (c *Client) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/b/%s/o/%s?alt=media", c.apiBase, url.PathEscape(c.bucket), url.PathEscape(path))
	resp, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) Delete(ctx context.Context, path string) error {
	u := fmt.Sprintf("%s/b/%s/o/%s", c.apiBase, url.PathEscape(c.bucket), url.PathEscape(path))
	resp, err := c.do(ctx, http.MethodDelete, u, nil, "")
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return drain(resp)
}

func (c *Client) URL(path string) string {
	return fmt.Sprintf("%s/%s/%s", publicBase, c.bucket, strings.TrimLeft(path, "/"))
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, storage.ErrNotFound
	}
	if resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if len(b) > 0 {
			return nil, fmt.Errorf("gcs %s %s: %s: %s", method, req.URL.Path, resp.Status, strings.TrimSpace(string(b)))
		}
		return nil, fmt.Errorf("gcs %s %s: %s", method, req.URL.Path, resp.Status)
	}
	return resp, nil
}

func drain(resp *http.Response) error {
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}
