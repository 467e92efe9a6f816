package resolver

import (
	"fmt"
	"time"

	"github.com/cloudrive/drive-stream-proxy/internal/driveapi"
)

// FileIdentity is the external key for all resolution and caching.
type FileIdentity struct {
	UserID  string
	DriveID string
	FileID  string
}

// Valid reports whether every component is present. Resolution is never
// attempted against a partial identity.
func (id FileIdentity) Valid() bool {
	return id.UserID != "" && id.DriveID != "" && id.FileID != ""
}

func (id FileIdentity) String() string {
	return fmt.Sprintf("%s/%s/%s", id.UserID, id.DriveID, id.FileID)
}

// Mode records which strategy produced a resolved URL.
type Mode string

const (
	ModeDirectDownload    Mode = "direct-download"
	ModeTranscodedPreview Mode = "transcoded-preview"
	ModeRedirectFollow    Mode = "redirect-follow"
)

// ResolvedURL is a time-limited upstream URL for one file. ExpiresAt is
// always derived from the signed URL's own expiry parameter (or the vendor's
// declared expiry), never invented locally.
type ResolvedURL struct {
	UpstreamURL string
	Size        int64
	ExpiresAt   time.Time
	Mode        Mode

	// VideoMode is the player mode active when the URL was resolved; a mode
	// change invalidates the entry.
	VideoMode string

	// Preview extras, empty for plain downloads.
	Duration  float64
	Subtitles []driveapi.Subtitle
}

// Valid reports whether the URL can still be served at the given instant.
func (r *ResolvedURL) Valid(now time.Time) bool {
	return r != nil && r.UpstreamURL != "" && now.Before(r.ExpiresAt)
}

// UnsupportedFormatError marks content that cannot be decrypted or played,
// such as certain lossy audio containers. It is a descriptive result, not a
// transport failure; callers own the messaging.
type UnsupportedFormatError struct {
	Filename string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("format of %q is not previewable when encrypted", e.Filename)
}
