package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrive/drive-stream-proxy/internal/driveapi"
)

// stubAPI returns canned answers per call kind.
type stubAPI struct {
	download    *driveapi.RawURL
	downloadErr error
	video       *driveapi.RawURL
	videoErr    error
	audio       *driveapi.RawURL
	audioErr    error

	downloadCalls int
	videoCalls    int
	audioCalls    int
}

func (s *stubAPI) DownloadURL(ctx context.Context, userID, driveID, fileID string, ttl time.Duration) (*driveapi.RawURL, error) {
	s.downloadCalls++
	return s.download, s.downloadErr
}

func (s *stubAPI) VideoPreviewURL(ctx context.Context, userID, driveID, fileID string) (*driveapi.RawURL, error) {
	s.videoCalls++
	return s.video, s.videoErr
}

func (s *stubAPI) AudioPreviewURL(ctx context.Context, userID, driveID, fileID string) (*driveapi.RawURL, error) {
	s.audioCalls++
	return s.audio, s.audioErr
}

var testIdentity = FileIdentity{UserID: "u1", DriveID: "d1", FileID: "f1"}

func newTestResolver(api driveapi.API) *Resolver {
	return New(api, URLBuilder{Port: 16866}, 4*time.Hour)
}

func signedDownload(size int64) *driveapi.RawURL {
	return &driveapi.RawURL{
		URL:  fmt.Sprintf("https://cdn.example.com/obj?Expires=9999999999&size=%d", size),
		Size: size,
	}
}

func TestResolve_DirectDownload(t *testing.T) {
	api := &stubAPI{download: signedDownload(1000)}
	r := newTestResolver(api)

	resolved, err := r.Resolve(context.Background(), testIdentity, Options{VideoMode: VideoModeWeb})

	require.NoError(t, err)
	assert.Equal(t, ModeDirectDownload, resolved.Mode)
	assert.Equal(t, api.download.URL, resolved.UpstreamURL)
	assert.Equal(t, int64(1000), resolved.Size)
	assert.Equal(t, time.Unix(9999999999, 0), resolved.ExpiresAt)
	assert.Equal(t, VideoModeWeb, resolved.VideoMode)
	assert.Zero(t, api.videoCalls)
}

func TestResolve_InvalidIdentity(t *testing.T) {
	r := newTestResolver(&stubAPI{})

	_, err := r.Resolve(context.Background(), FileIdentity{UserID: "u1"}, Options{})

	var resErr *driveapi.ResolutionError
	require.ErrorAs(t, err, &resErr)
}

func TestResolve_EncryptedWrapsIntoProxyURL(t *testing.T) {
	api := &stubAPI{download: signedDownload(2048)}
	r := newTestResolver(api)

	resolved, err := r.Resolve(context.Background(), testIdentity, Options{
		EncType:   "xbyEncrypt2",
		VideoMode: VideoModeWeb,
	})

	require.NoError(t, err)
	u, perr := url.Parse(resolved.UpstreamURL)
	require.NoError(t, perr)
	assert.Equal(t, "127.0.0.1:16866", u.Host)
	assert.Equal(t, "/proxy", u.Path)

	q := u.Query()
	assert.Equal(t, "xbyEncrypt2", q.Get("encType"))
	assert.Equal(t, "2048", q.Get("file_size"))
	assert.Equal(t, api.download.URL, q.Get("proxy_url"))
}

func TestResolve_VideoPreviewInOnlineMode(t *testing.T) {
	api := &stubAPI{
		video: &driveapi.RawURL{
			URLFHD:   "https://cdn.example.com/preview-fhd.m3u8?Expires=9999999999",
			URLSD:    "https://cdn.example.com/preview-sd.m3u8",
			Size:     5000,
			Duration: 120.5,
		},
	}
	r := newTestResolver(api)

	resolved, err := r.Resolve(context.Background(), testIdentity, Options{
		Preview:     true,
		PreviewKind: "video",
		VideoMode:   VideoModeOnline,
	})

	require.NoError(t, err)
	assert.Equal(t, ModeTranscodedPreview, resolved.Mode)
	assert.Equal(t, 120.5, resolved.Duration)
	// highest available quality wins
	assert.Contains(t, resolved.UpstreamURL, "preview-fhd")
	assert.Zero(t, api.downloadCalls, "online mode never downloads the original")
}

func TestResolve_WebModeDownloadOverridesPreview(t *testing.T) {
	api := &stubAPI{
		download: signedDownload(1000),
		video:    &driveapi.RawURL{URLSD: "https://cdn.example.com/preview-sd.m3u8"},
	}
	r := newTestResolver(api)

	resolved, err := r.Resolve(context.Background(), testIdentity, Options{
		Preview:     true,
		PreviewKind: "video",
		VideoMode:   VideoModeWeb,
	})

	require.NoError(t, err)
	assert.Equal(t, ModeDirectDownload, resolved.Mode)
	assert.NotContains(t, resolved.UpstreamURL, "preview-sd")
	// the wrapped proxy URL only applies to encrypted or explicit preview
	// requests; here PreviewKind is set, so the URL loops back
	assert.Contains(t, resolved.UpstreamURL, "127.0.0.1:16866")
}

func TestResolve_FlaggedContentOnlyPreviews(t *testing.T) {
	api := &stubAPI{
		download: signedDownload(1000),
		video:    &driveapi.RawURL{URLSD: "https://cdn.example.com/preview-sd.m3u8?Expires=9999999999"},
	}
	r := newTestResolver(api)

	resolved, err := r.Resolve(context.Background(), testIdentity, Options{
		Preview:   true,
		Weifa:     true,
		VideoMode: VideoModeWeb,
	})

	require.NoError(t, err)
	assert.Equal(t, ModeTranscodedPreview, resolved.Mode)
	assert.Zero(t, api.downloadCalls, "flagged content must never download the original")
}

func TestResolve_AudioPreview(t *testing.T) {
	api := &stubAPI{
		downloadErr: &driveapi.ResolutionError{Message: "download denied"},
		audio:       &driveapi.RawURL{URL: "https://cdn.example.com/audio.m4a?Expires=9999999999"},
	}
	r := newTestResolver(api)

	resolved, err := r.Resolve(context.Background(), testIdentity, Options{
		Preview:     true,
		PreviewKind: "audio",
		VideoMode:   VideoModeWeb,
	})

	require.NoError(t, err)
	assert.Equal(t, ModeTranscodedPreview, resolved.Mode)
	assert.Equal(t, 1, api.audioCalls)
}

func TestResolve_PreviewFallsBackWhenVendorRefuses(t *testing.T) {
	// Both preview and download fail with vendor errors: the caller gets a
	// resolution error, not a transport error.
	api := &stubAPI{
		videoErr:    &driveapi.ResolutionError{Message: "no preview"},
		downloadErr: &driveapi.ResolutionError{Message: "no download"},
	}
	r := newTestResolver(api)

	_, err := r.Resolve(context.Background(), testIdentity, Options{
		Preview:     true,
		PreviewKind: "video",
		VideoMode:   VideoModeWeb,
	})

	var resErr *driveapi.ResolutionError
	require.ErrorAs(t, err, &resErr)
}

func TestResolve_TransportErrorPropagates(t *testing.T) {
	transportErr := errors.New("connection refused")
	api := &stubAPI{downloadErr: transportErr}
	r := newTestResolver(api)

	_, err := r.Resolve(context.Background(), testIdentity, Options{VideoMode: VideoModeWeb})

	require.ErrorIs(t, err, transportErr)
}

func TestResolve_UnsupportedAudioContainer(t *testing.T) {
	api := &stubAPI{
		download: &driveapi.RawURL{
			URL: "https://cdn.example.com/obj?response-content-disposition=" +
				url.QueryEscape("attachment;filename*=utf-8''song.wma") + "&Expires=9999999999",
		},
	}
	r := newTestResolver(api)

	_, err := r.Resolve(context.Background(), testIdentity, Options{VideoMode: VideoModeWeb})

	var fmtErr *UnsupportedFormatError
	require.ErrorAs(t, err, &fmtErr)
	assert.Equal(t, "song.wma", fmtErr.Filename)
}
