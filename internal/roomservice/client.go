// Package roomservice is the HTTP client for the room service that creates
// rooms and performs message encryption on behalf of the session.
package roomservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/npezzotti/roomchat/internal/types"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20

	RequestIDHeader = "X-Request-Id"
)

type Client struct {
	log     zerolog.Logger
	baseURL *url.URL
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewClient(baseURL string, logger zerolog.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("service url must be http or https, got %q", baseURL)
	}

	c := &Client{
		log:     logger.With().Str("component", "roomservice").Logger(),
		baseURL: u,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type createRoomResponse struct {
	RoomID string `json:"roomID"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type encryptResponse struct {
	Encrypted string `json:"encrypted"`
}

type decryptResponse struct {
	Decrypted string `json:"decrypted"`
}

// CreateRoom asks the service for a fresh room identifier. Every failure
// matches types.ErrRoomCreationFailed.
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	var res createRoomResponse
	if err := c.post(ctx, "create room", "/create-room", nil, &res); err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrRoomCreationFailed, err)
	}
	if res.RoomID == "" {
		return "", fmt.Errorf("%w: empty room id", types.ErrRoomCreationFailed)
	}

	return res.RoomID, nil
}

func (c *Client) Encrypt(ctx context.Context, plaintext string) (string, error) {
	var res encryptResponse
	if err := c.post(ctx, "encrypt", "/encrypt", messageRequest{Message: plaintext}, &res); err != nil {
		return "", err
	}

	return res.Encrypted, nil
}

func (c *Client) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	var res decryptResponse
	if err := c.post(ctx, "decrypt", "/decrypt", messageRequest{Message: ciphertext}, &res); err != nil {
		return "", err
	}

	return res.Decrypted, nil
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return &types.ServiceError{Op: op, Message: "encode request", Err: err}
		}
		body = bytes.NewReader(buf)
	}

	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
	if err != nil {
		return &types.ServiceError{Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	reqID, err := shortid.Generate()
	if err == nil {
		req.Header.Set(RequestIDHeader, reqID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("op", op).Str("request_id", reqID).Msg("request failed")
		return &types.ServiceError{Op: op, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		c.log.Debug().Str("op", op).Str("request_id", reqID).Int("status", resp.StatusCode).Msg("unexpected status")
		return &types.ServiceError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    strings.ToLower(http.StatusText(resp.StatusCode)),
		}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return &types.ServiceError{Op: op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}

	return nil
}
