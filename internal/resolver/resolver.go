// Package resolver turns a file identity into a playable upstream URL. It
// chooses between direct downloads, transcoded previews and client-supplied
// URLs, and wraps the result into a loopback proxy URL when the content must
// flow back through the decrypting proxy.
package resolver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudrive/drive-stream-proxy/internal/driveapi"
	"github.com/cloudrive/drive-stream-proxy/internal/monitoring"
)

// VideoMode mirrors the application-wide playback setting.
const (
	VideoModeWeb    = "web"    // play the original file
	VideoModeOnline = "online" // always use the transcoded stream
)

// Options steer a single resolution.
type Options struct {
	EncType     string
	Password    string
	Weifa       bool
	Preview     bool
	PreviewKind string // "video", "audio" or ""
	VideoMode   string
}

// Resolver implements the upstream URL decision policy against the vendor
// API.
type Resolver struct {
	api         driveapi.API
	urls        URLBuilder
	downloadTTL time.Duration
	logger      *logrus.Entry
}

// New creates a Resolver. downloadTTL is the validity window requested for
// direct download URLs.
func New(api driveapi.API, urls URLBuilder, downloadTTL time.Duration) *Resolver {
	return &Resolver{
		api:         api,
		urls:        urls,
		downloadTTL: downloadTTL,
		logger:      logrus.WithField("component", "resolver"),
	}
}

// Resolve obtains an upstream URL for id. Vendor failures come back as
// *driveapi.ResolutionError; cipher-incompatible containers as
// *UnsupportedFormatError.
func (r *Resolver) Resolve(ctx context.Context, id FileIdentity, opts Options) (*ResolvedURL, error) {
	start := time.Now()
	resolved, err := r.resolve(ctx, id, opts)

	status := "success"
	if err != nil {
		status = "error"
	}
	mode := ""
	if resolved != nil {
		mode = string(resolved.Mode)
	}
	monitoring.RecordResolve(mode, status, time.Since(start))
	return resolved, err
}

func (r *Resolver) resolve(ctx context.Context, id FileIdentity, opts Options) (*ResolvedURL, error) {
	if !id.Valid() {
		return nil, &driveapi.ResolutionError{Message: "incomplete file identity " + id.String()}
	}

	resolved := &ResolvedURL{Mode: ModeDirectDownload, VideoMode: opts.VideoMode}

	if opts.Preview && opts.EncType == "" {
		// Flagged content cannot be downloaded directly, only transcoded.
		if opts.Weifa || opts.PreviewKind == "video" || opts.VideoMode == VideoModeOnline {
			raw, err := r.api.VideoPreviewURL(ctx, id.UserID, id.DriveID, id.FileID)
			if err == nil {
				resolved.Mode = ModeTranscodedPreview
				resolved.UpstreamURL = raw.BestPreviewURL()
				resolved.Size = raw.Size
				resolved.Duration = raw.Duration
				resolved.Subtitles = raw.Subtitles
			} else if !isResolutionError(err) {
				return nil, err
			}
		} else if opts.PreviewKind == "audio" {
			raw, err := r.api.AudioPreviewURL(ctx, id.UserID, id.DriveID, id.FileID)
			if err == nil {
				resolved.Mode = ModeTranscodedPreview
				resolved.UpstreamURL = raw.URL
			} else if !isResolutionError(err) {
				return nil, err
			}
		}

		if !opts.Weifa && opts.VideoMode != VideoModeOnline {
			if err := r.fillDownload(ctx, id, resolved); err != nil {
				return nil, err
			}
		}
		if resolved.UpstreamURL == "" {
			return nil, &driveapi.ResolutionError{Message: "failed to resolve a playable URL"}
		}
	} else {
		if err := r.fillDownload(ctx, id, resolved); err != nil {
			return nil, err
		}
	}

	resolved.ExpiresAt = ExpiresTime(resolved.UpstreamURL)

	// When encrypted (or explicitly previewed), hand out a loopback proxy URL
	// so follow-up requests route back through the decrypting handler.
	if opts.EncType != "" || opts.PreviewKind != "" {
		upstream := resolved.UpstreamURL
		resolved.UpstreamURL = r.urls.ProxyURL(FileInfo{
			UserID:   id.UserID,
			DriveID:  id.DriveID,
			FileID:   id.FileID,
			FileSize: resolved.Size,
			EncType:  opts.EncType,
			Password: opts.Password,
			Weifa:    opts.Weifa,
			ProxyURL: upstream,
		})
	}

	r.logger.WithFields(logrus.Fields{
		"file": id.String(),
		"mode": resolved.Mode,
		"size": resolved.Size,
	}).Debug("Resolved upstream URL")

	return resolved, nil
}

// fillDownload resolves a direct download URL into resolved, overriding any
// preview URL picked up earlier (the original bytes win in web mode).
func (r *Resolver) fillDownload(ctx context.Context, id FileIdentity, resolved *ResolvedURL) error {
	raw, err := r.api.DownloadURL(ctx, id.UserID, id.DriveID, id.FileID, r.downloadTTL)
	if err != nil {
		if isResolutionError(err) && resolved.UpstreamURL != "" {
			// Keep the preview URL already resolved.
			return nil
		}
		return err
	}
	if name := UpstreamFileName(raw.URL); strings.Contains(name, "wma") {
		return &UnsupportedFormatError{Filename: name}
	}
	resolved.Mode = ModeDirectDownload
	resolved.UpstreamURL = raw.URL
	resolved.Size = raw.Size
	return nil
}

func isResolutionError(err error) bool {
	var resErr *driveapi.ResolutionError
	return errors.As(err, &resErr)
}
