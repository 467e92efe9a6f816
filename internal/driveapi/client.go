// Package driveapi is the client for the storage vendor's REST API. Only the
// three URL-resolution calls the streaming proxy needs are implemented; the
// full account/listing surface lives elsewhere in the application.
package driveapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// API is the resolution surface consumed by the proxy. All calls return a
// *ResolutionError when the vendor answers with an error string.
type API interface {
	DownloadURL(ctx context.Context, userID, driveID, fileID string, ttl time.Duration) (*RawURL, error)
	VideoPreviewURL(ctx context.Context, userID, driveID, fileID string) (*RawURL, error)
	AudioPreviewURL(ctx context.Context, userID, driveID, fileID string) (*RawURL, error)
}

// Client implements API over HTTP JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Entry
}

// NewClient creates a vendor API client. baseURL has no trailing slash.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logrus.WithField("component", "drive-api"),
	}
}

// NewClientWithHTTPClient creates a client with a caller-supplied HTTP
// client, used by tests.
func NewClientWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	c := NewClient(baseURL)
	c.httpClient = httpClient
	return c
}

type urlRequest struct {
	UserID    string `json:"user_id"`
	DriveID   string `json:"drive_id"`
	FileID    string `json:"file_id"`
	ExpireSec int64  `json:"expire_sec,omitempty"`
	Category  string `json:"category,omitempty"`
}

// apiError is the vendor's error envelope. A response carrying a non-empty
// code is a failure regardless of HTTP status.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DownloadURL requests a direct time-limited download URL.
func (c *Client) DownloadURL(ctx context.Context, userID, driveID, fileID string, ttl time.Duration) (*RawURL, error) {
	return c.post(ctx, "/v2/file/get_download_url", &urlRequest{
		UserID:    userID,
		DriveID:   driveID,
		FileID:    fileID,
		ExpireSec: int64(ttl.Seconds()),
	})
}

// VideoPreviewURL requests a transcoded video preview URL.
func (c *Client) VideoPreviewURL(ctx context.Context, userID, driveID, fileID string) (*RawURL, error) {
	return c.post(ctx, "/v2/file/get_video_preview_url", &urlRequest{
		UserID:  userID,
		DriveID: driveID,
		FileID:  fileID,
	})
}

// AudioPreviewURL requests a transcoded audio preview URL.
func (c *Client) AudioPreviewURL(ctx context.Context, userID, driveID, fileID string) (*RawURL, error) {
	return c.post(ctx, "/v2/file/get_audio_play_info", &urlRequest{
		UserID:   userID,
		DriveID:  driveID,
		FileID:   fileID,
		Category: "audio",
	})
}

func (c *Client) post(ctx context.Context, path string, reqBody *urlRequest) (*RawURL, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vendor API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read vendor API response: %w", err)
	}

	// The vendor reports failures as an error envelope in the body.
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		c.logger.WithFields(logrus.Fields{
			"path": path,
			"code": apiErr.Code,
		}).Debug("Vendor API returned error")
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Code
		}
		return nil, &ResolutionError{Message: msg}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ResolutionError{Message: fmt.Sprintf("vendor API status %d", resp.StatusCode)}
	}

	var raw RawURL
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode vendor API response: %w", err)
	}
	return &raw, nil
}
