package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

var (
	ErrLogFileMissing = errors.New("log file does not exist")
	ErrInvalidWebhook = errors.New("invalid webhook url")
)

// Result mirrors what the dev menu shows after an upload.
// Message carries the error kind of a failed Slack upload.
type Result struct {
	Type    string `json:"type"`
	Code    int    `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client posts the log file as multipart form data to a chat webhook.
type Client struct {
	http *http.Client
	log  *zap.Logger
}

func NewClient(timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{http: &http.Client{Timeout: timeout}, log: log}
}

// Upload sends path to webhook. Transport and HTTP failures are reported in
// the Result; only local problems come back as errors.
func (c *Client) Upload(ctx context.Context, webhook, path string) (Result, error) {
	u, err := url.Parse(webhook)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidWebhook, webhook)
	}

	body, contentType, err := fileForm(path, nil)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("log upload failed", zap.String("host", u.Host), zap.Error(err))
		return Result{Type: "error", Error: err.Error()}, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("log upload rejected", zap.String("host", u.Host), zap.Int("status", resp.StatusCode))
		return Result{Type: "error", Code: resp.StatusCode, Error: resp.Status}, nil
	}
	c.log.Info("log uploaded", zap.String("host", u.Host), zap.Int("status", resp.StatusCode))
	return Result{Type: "success", Code: resp.StatusCode}, nil
}

// fileForm builds a multipart body holding path as the "file" part plus the
// given plain fields.
func fileForm(path string, fields map[string]string) (*bytes.Buffer, string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrLogFileMissing
		}
		return nil, "", fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("build form: %w", err)
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read log file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("build form: %w", err)
	}
	return body, mw.FormDataContentType(), nil
}
