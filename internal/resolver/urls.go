package resolver

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

// FileInfo carries the query parameters of a constructed proxy URL. Fields
// left at their zero value are omitted from the query string entirely.
type FileInfo struct {
	UserID   string
	DriveID  string
	FileID   string
	FileSize int64
	EncType  string
	Password string
	Weifa    bool
	ProxyURL string
}

// Values encodes the non-empty fields.
func (f FileInfo) Values() url.Values {
	v := url.Values{}
	set := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	set("user_id", f.UserID)
	set("drive_id", f.DriveID)
	set("file_id", f.FileID)
	if f.FileSize > 0 {
		v.Set("file_size", strconv.FormatInt(f.FileSize, 10))
	}
	set("encType", f.EncType)
	set("password", f.Password)
	if f.Weifa {
		v.Set("weifa", "1")
	}
	set("proxy_url", f.ProxyURL)
	return v
}

// URLBuilder constructs loopback proxy URLs for the local listener port.
type URLBuilder struct {
	Port int
}

// ProxyURL builds the /proxy URL that routes a file's traffic back through
// the streaming proxy.
func (b URLBuilder) ProxyURL(info FileInfo) string {
	return fmt.Sprintf("http://127.0.0.1:%d/proxy?%s", b.Port, info.Values().Encode())
}

// RedirectURL builds the /redirect URL used to re-enter the proxy when the
// upstream itself redirects mid-stream. key is an opaque per-redirect id.
func (b URLBuilder) RedirectURL(key string, lastURL string, info FileInfo) string {
	v := info.Values()
	v.Set("decode", "1")
	v.Set("lastUrl", lastURL)
	return fmt.Sprintf("http://127.0.0.1:%d/redirect/%s?%s", b.Port, key, v.Encode())
}

var fileNamePattern = regexp.MustCompile(`filename\*?=[^=;]*''([^&;]+)`)

// UpstreamFileName extracts the attachment filename embedded in a signed
// download URL (the vendor encodes a content-disposition into the query).
// Returns "" when no filename parameter is present.
func UpstreamFileName(rawURL string) string {
	decoded, err := url.QueryUnescape(rawURL)
	if err != nil {
		decoded = rawURL
	}
	if m := fileNamePattern.FindStringSubmatch(decoded); m != nil {
		return m[1]
	}
	return ""
}

// ExpiresTime extracts the expiry instant embedded in a signed URL. The
// vendor CDNs carry it either as an epoch `Expires`/`x-oss-expires` query
// parameter or not at all; a zero time means no expiry could be derived.
func ExpiresTime(rawURL string) time.Time {
	u, err := url.Parse(rawURL)
	if err != nil {
		return time.Time{}
	}
	q := u.Query()
	for _, key := range []string{"x-oss-expires", "Expires", "expires", "exp"} {
		if val := q.Get(key); val != "" {
			if epoch, err := strconv.ParseInt(val, 10, 64); err == nil && epoch > 0 {
				return time.Unix(epoch, 0)
			}
		}
	}
	return time.Time{}
}
