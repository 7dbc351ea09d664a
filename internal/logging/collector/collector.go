package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"

	"github.com/Chichichkin/forgelog/internal/device"
	"github.com/Chichichkin/forgelog/internal/logging"
)

const (
	DefaultBaseURL = "http://localhost:4000"
	DefaultTimeout = 10 * time.Second

	registerDevicePath = "/sdk/register_device"
	logPath            = "/sdk/api/log"
	logsPath           = "/sdk/api/logs"
)

// TokenStore is the device token cache consulted on every request.
type TokenStore interface {
	Read(ctx context.Context) (string, bool)
	Write(ctx context.Context, token *string)
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.httpClient.Timeout = d
	}
}

// WithGzip compresses batch bodies.
func WithGzip(enabled bool) Option {
	return func(cl *Client) {
		cl.gzip = enabled
	}
}

func WithDevice(d device.Context) Option {
	return func(cl *Client) {
		cl.device = d
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(cl *Client) {
		cl.log = l
	}
}

// Client talks to the collector. It holds no pipeline state and never
// retries; retrying is the batch worker's job.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
	device     device.Context
	gzip       bool
	log        *logrus.Entry
}

func NewClient(baseURL string, tokens TokenStore, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.WithStack(&ConfigurationError{
			Name:    "Endpoint",
			Value:   baseURL,
			Message: "must be an absolute http(s) URL",
		})
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		tokens: tokens,
		log:    logrus.WithField("component", "collector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.device == (device.Context{}) {
		c.device = device.Current()
	}
	return c, nil
}

type deviceTokenResponse struct {
	Token string `json:"token"`
}

// RegisterDevice exchanges the client key for a device token and stores it.
// It does nothing when a token is already known. Failures are logged and
// leave the token absent until the next engine start.
func (c *Client) RegisterDevice(ctx context.Context, clientKey string) {
	if _, ok := c.tokens.Read(ctx); ok {
		c.log.Debug("device already registered")
		return
	}

	body := c.device.Fields()
	body["sdk_key"] = clientKey

	data, err := c.dispatch(ctx, registerDevicePath, body, false)
	if err != nil {
		c.log.WithError(err).Error("failed to register device")
		return
	}

	var resp deviceTokenResponse
	if err := json.Unmarshal(data, &resp); err != nil || resp.Token == "" {
		c.log.WithError(err).Error("failed to register device: response carries no token")
		return
	}

	c.tokens.Write(ctx, &resp.Token)
	c.log.Info("device registered")
}

func (c *Client) SendOne(ctx context.Context, record logging.LogRecord) error {
	_, err := c.dispatch(ctx, logPath, record, false)
	return err
}

func (c *Client) SendBatch(ctx context.Context, records []logging.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	_, err := c.dispatch(ctx, logsPath, records, c.gzip)
	if err != nil {
		return err
	}
	c.log.Debugf("sent batch of %d records", len(records))
	return nil
}

func (c *Client) dispatch(ctx context.Context, path string, payload any, compress bool) ([]byte, error) {
	req, err := c.newRequest(ctx, path, payload, compress)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(&TransportError{Op: "POST " + path, Err: err})
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithStack(&TransportError{Op: "read " + path, Err: err})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.WithStack(decodeErrorResponse(resp.StatusCode, data))
	}
	return data, nil
}

func (c *Client) newRequest(ctx context.Context, path string, payload any, compress bool) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WithStack(&TransportError{Op: "encode " + path, Err: err})
	}

	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, errors.WithStack(&TransportError{Op: "compress " + path, Err: err})
		}
		if err := zw.Close(); err != nil {
			return nil, errors.WithStack(&TransportError{Op: "compress " + path, Err: err})
		}
		body = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.WithStack(&TransportError{Op: "build " + path, Err: err})
	}

	req.Header.Set("Content-Type", "application/json")
	if compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if token, ok := c.tokens.Read(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func decodeErrorResponse(status int, body []byte) error {
	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	if err == nil && v.Type() == fastjson.TypeObject {
		if msg := v.Get("error"); msg != nil && msg.Type() == fastjson.TypeString {
			return &ServerError{StatusCode: status, Message: string(msg.GetStringBytes())}
		}
	}
	return &UnknownServerError{StatusCode: status}
}
