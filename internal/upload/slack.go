package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	SlackAPI = "https://slack.com/api"

	// Error kinds reported in Result.Message.
	KindUploadLogFile = "errorUploadLogFile"
	KindCreateMessage = "errorCreateMessage"

	slackPublicPrefix = "https://slack-files.com/"
	slackColor        = "#f2c744"
)

var ErrSlackNotConfigured = errors.New("slack upload needs token and channel")

// SlackConfig holds the two bot tokens Slack needs: Token2 uploads and
// publishes the file, Token posts the message.
type SlackConfig struct {
	Token    string
	Token2   string
	Channel  string
	Platform string
}

// SlackClient uploads the log file, makes it public and posts a link to it
// in a channel.
type SlackClient struct {
	http *http.Client
	log  *zap.Logger
	api  string

	mu  sync.RWMutex
	cfg SlackConfig
}

type SlackOption func(*SlackClient)

// WithSlackAPI points the client at another API root.
func WithSlackAPI(base string) SlackOption {
	return func(c *SlackClient) { c.api = strings.TrimRight(base, "/") }
}

func NewSlackClient(cfg SlackConfig, timeout time.Duration, log *zap.Logger, opts ...SlackOption) *SlackClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &SlackClient{http: &http.Client{Timeout: timeout}, log: log, api: SlackAPI}
	for _, o := range opts {
		o(c)
	}
	c.Reload(cfg)
	return c
}

// Reload swaps tokens and channel for the next upload.
func (c *SlackClient) Reload(cfg SlackConfig) {
	if cfg.Token2 == "" {
		cfg.Token2 = cfg.Token
	}
	if cfg.Platform == "" {
		cfg.Platform = runtime.GOOS
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *SlackClient) config() SlackConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

type slackFile struct {
	ID              string `json:"id"`
	PermalinkPublic string `json:"permalink_public"`
}

type slackReply struct {
	OK    bool      `json:"ok"`
	Error string    `json:"error"`
	File  slackFile `json:"file"`
}

// Upload runs files.upload, files.sharedPublicURL and chat.postMessage in
// order. A failure in the first two steps is reported as KindUploadLogFile,
// a failure posting the message as KindCreateMessage.
func (c *SlackClient) Upload(ctx context.Context, path string) (Result, error) {
	cfg := c.config()
	if cfg.Token == "" || cfg.Channel == "" {
		return Result{}, ErrSlackNotConfigured
	}

	body, contentType, err := fileForm(path, map[string]string{"token": cfg.Token2})
	if err != nil {
		return Result{}, err
	}

	link, err := c.publish(ctx, cfg, body, contentType)
	if err != nil {
		c.log.Warn("slack upload failed", zap.Error(err))
		return Result{Type: "error", Message: KindUploadLogFile, Error: err.Error()}, nil
	}

	if err := c.postMessage(ctx, cfg, link); err != nil {
		c.log.Warn("slack message failed", zap.String("channel", cfg.Channel), zap.Error(err))
		return Result{Type: "error", Message: KindCreateMessage, Error: err.Error()}, nil
	}
	c.log.Info("log uploaded to slack", zap.String("channel", cfg.Channel))
	return Result{Type: "success"}, nil
}

func (c *SlackClient) publish(ctx context.Context, cfg SlackConfig, body io.Reader, contentType string) (string, error) {
	up, err := c.call(ctx, "files.upload", contentType, "", body)
	if err != nil {
		return "", err
	}
	if up.File.ID == "" {
		return "", errors.New("files.upload: no file id")
	}

	shared, err := c.call(ctx, "files.sharedPublicURL?file="+url.QueryEscape(up.File.ID), "", cfg.Token2, nil)
	if err != nil {
		return "", err
	}
	return privateLink(shared.File.PermalinkPublic, "log.txt")
}

func (c *SlackClient) postMessage(ctx context.Context, cfg SlackConfig, link string) error {
	msg := map[string]any{
		"channel": cfg.Channel,
		"attachments": []any{map[string]any{
			"color": slackColor,
			"blocks": []any{
				map[string]any{
					"type": "header",
					"text": map[string]any{
						"type":  "plain_text",
						"text":  fmt.Sprintf(":point_down: Log (%s)", strings.ToUpper(cfg.Platform)),
						"emoji": true,
					},
				},
				map[string]any{
					"type": "section",
					"text": map[string]any{
						"type": "mrkdwn",
						"text": fmt.Sprintf("<%s|Show logs>", link),
					},
				},
			},
		}},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "chat.postMessage", "application/json", cfg.Token, bytes.NewReader(b))
	return err
}

// call POSTs to one API method and decodes the reply. Slack answers 200 with
// ok=false on most failures, so both are checked.
func (c *SlackClient) call(ctx context.Context, method, contentType, token string, body io.Reader) (slackReply, error) {
	var reply slackReply
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.api+"/"+method, body)
	if err != nil {
		return reply, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	name, _, _ := strings.Cut(method, "?")

	resp, err := c.http.Do(req)
	if err != nil {
		return reply, fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return reply, fmt.Errorf("%s: %s", name, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return reply, fmt.Errorf("%s: decode reply: %w", name, err)
	}
	if !reply.OK {
		return reply, fmt.Errorf("%s: %s", name, reply.Error)
	}
	return reply, nil
}

// privateLink turns https://slack-files.com/{team}-{file}-{secret} into the
// direct download link for filename.
func privateLink(public, filename string) (string, error) {
	rest, ok := strings.CutPrefix(public, slackPublicPrefix)
	if !ok {
		return "", fmt.Errorf("unexpected public link %q", public)
	}
	parts := strings.Split(rest, "-")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("unexpected public link %q", public)
	}
	return fmt.Sprintf("https://files.slack.com/files-pri/%s-%s/%s?pub_secret=%s",
		parts[0], parts[1], filename, url.QueryEscape(parts[2])), nil
}
