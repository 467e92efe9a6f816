package resolver

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileInfoValues_OmitsZeroFields(t *testing.T) {
	v := FileInfo{UserID: "u1", FileID: "f1"}.Values()

	assert.Equal(t, "u1", v.Get("user_id"))
	assert.Equal(t, "f1", v.Get("file_id"))
	assert.NotContains(t, v.Encode(), "drive_id")
	assert.NotContains(t, v.Encode(), "file_size")
	assert.NotContains(t, v.Encode(), "weifa")
	assert.NotContains(t, v.Encode(), "encType")
}

func TestURLBuilder_ProxyURL(t *testing.T) {
	b := URLBuilder{Port: 16866}
	raw := b.ProxyURL(FileInfo{
		UserID:   "u1",
		DriveID:  "d1",
		FileID:   "f1",
		FileSize: 2048,
		EncType:  "xbyEncrypt2",
		Weifa:    true,
	})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:16866", u.Host)
	assert.Equal(t, "/proxy", u.Path)

	q := u.Query()
	assert.Equal(t, "u1", q.Get("user_id"))
	assert.Equal(t, "d1", q.Get("drive_id"))
	assert.Equal(t, "f1", q.Get("file_id"))
	assert.Equal(t, "2048", q.Get("file_size"))
	assert.Equal(t, "xbyEncrypt2", q.Get("encType"))
	assert.Equal(t, "1", q.Get("weifa"))
}

func TestURLBuilder_RedirectURL(t *testing.T) {
	b := URLBuilder{Port: 16866}
	raw := b.RedirectURL("abc-123", "https://cdn.example.com/object?sig=x",
		FileInfo{UserID: "u1", FileSize: 100, EncType: "xbyEncrypt1"})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/redirect/abc-123", u.Path)

	q := u.Query()
	assert.Equal(t, "1", q.Get("decode"))
	assert.Equal(t, "https://cdn.example.com/object?sig=x", q.Get("lastUrl"))
	assert.Equal(t, "xbyEncrypt1", q.Get("encType"))
}

func TestUpstreamFileName(t *testing.T) {
	signed := "https://cdn.example.com/obj?response-content-disposition=" +
		url.QueryEscape("attachment;filename*=utf-8''report.pdf") + "&Expires=1"
	assert.Equal(t, "report.pdf", UpstreamFileName(signed))

	// plain filename= form with charset prefix
	assert.Equal(t, "movie.mp4",
		UpstreamFileName("https://cdn.example.com/obj?d=filename=utf-8''movie.mp4"))

	assert.Empty(t, UpstreamFileName("https://cdn.example.com/obj?Expires=1"))
	assert.Empty(t, UpstreamFileName(""))
}

func TestExpiresTime(t *testing.T) {
	assert.Equal(t, time.Unix(1700000000, 0),
		ExpiresTime("https://cdn.example.com/obj?Expires=1700000000"))
	assert.Equal(t, time.Unix(1700000000, 0),
		ExpiresTime("https://bucket.aliyuncs.com/obj?x-oss-expires=1700000000"))

	assert.True(t, ExpiresTime("https://cdn.example.com/obj").IsZero())
	assert.True(t, ExpiresTime("https://cdn.example.com/obj?Expires=soon").IsZero())
	assert.True(t, ExpiresTime("://broken").IsZero())
}

func TestResolvedURLValid(t *testing.T) {
	now := time.Now()

	valid := &ResolvedURL{UpstreamURL: "https://cdn.example.com/obj", ExpiresAt: now.Add(time.Hour)}
	assert.True(t, valid.Valid(now))

	expired := &ResolvedURL{UpstreamURL: "https://cdn.example.com/obj", ExpiresAt: now.Add(-time.Second)}
	assert.False(t, expired.Valid(now))

	empty := &ResolvedURL{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, empty.Valid(now))

	var nilURL *ResolvedURL
	assert.False(t, nilURL.Valid(now))
}
