package proxy

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudrive/drive-stream-proxy/pkg/flowcipher"
)

func TestParseProxyRequest(t *testing.T) {
	r := httptest.NewRequest("GET",
		"/proxy?user_id=u1&drive_id=d1&file_id=f1&file_size=1234&encType=xbyEncrypt1&password=pw&weifa=1", nil)

	rc := parseProxyRequest(r)

	assert.Equal(t, "u1", rc.identity.UserID)
	assert.Equal(t, "d1", rc.identity.DriveID)
	assert.Equal(t, "f1", rc.identity.FileID)
	assert.Equal(t, int64(1234), rc.fileSize)
	assert.Equal(t, flowcipher.EncTypePassword, rc.encType)
	assert.Equal(t, "pw", rc.password)
	assert.True(t, rc.weifa)
	assert.True(t, rc.identity.Valid())
}

func TestParseProxyRequest_Defaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/proxy?user_id=u1", nil)

	rc := parseProxyRequest(r)

	assert.False(t, rc.identity.Valid())
	assert.Zero(t, rc.fileSize)
	assert.Empty(t, rc.encType)
	assert.False(t, rc.weifa)
}

func TestRangeStart(t *testing.T) {
	tests := []struct {
		header string
		want   int64
	}{
		{"", 0},
		{"bytes=0-", 0},
		{"bytes=500-", 500},
		{"bytes=500-999", 500},
		{"bytes=-500", 0},   // suffix ranges fall back to the start
		{"items=500-", 0},   // unknown unit
		{"bytes=abc-", 0},   // garbage
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rangeStart(tt.header), "header %q", tt.header)
	}
}

func TestDetectEncType(t *testing.T) {
	assert.Equal(t, flowcipher.EncTypePassword, DetectEncType("uploaded via client [xbyEncrypt1]"))
	assert.Equal(t, flowcipher.EncTypeUserID, DetectEncType("xbyEncrypt2"))
	assert.Empty(t, DetectEncType("plain upload"))
	assert.Empty(t, DetectEncType(""))
}

func TestEncPassword(t *testing.T) {
	server := newTestServer(t, &fakeAPI{})

	// explicit password always wins
	assert.Equal(t, "explicit", server.encPassword("u1", flowcipher.EncTypePassword, "explicit"))
	assert.Equal(t, "explicit", server.encPassword("u1", flowcipher.EncTypeUserID, "explicit"))
	// xbyEncrypt2 derives from the user identity
	assert.Equal(t, "u1", server.encPassword("u1", flowcipher.EncTypeUserID, ""))
	// xbyEncrypt1 falls back to the configured passphrase
	assert.Equal(t, "test-passphrase", server.encPassword("u1", flowcipher.EncTypePassword, ""))
	// plain files have no password at all
	assert.Empty(t, server.encPassword("u1", "", "explicit"))
}

func TestNewFlowCipher_PlainIsNil(t *testing.T) {
	server := newTestServer(t, &fakeAPI{})

	fc, err := server.newFlowCipher("u1", 100, "", "")

	assert.NoError(t, err)
	assert.Nil(t, fc)
}

func TestCDNDirect(t *testing.T) {
	server := newTestServer(t, &fakeAPI{})

	assert.True(t, server.cdnDirect("https://bucket.oss-cn-hangzhou.aliyuncs.com/object?x=1"))
	assert.False(t, server.cdnDirect("https://cdn.example.com/object"))
	assert.False(t, server.cdnDirect("https://aliyuncs.com.evil.example/object"))
	assert.False(t, server.cdnDirect("://not-a-url"))
}

func TestDecodeFileName(t *testing.T) {
	server := newTestServer(t, &fakeAPI{})
	rc := &requestContext{encType: flowcipher.EncTypePassword}
	rc.identity.UserID = "u1"

	encoded := flowcipher.EncodeName("test-passphrase", flowcipher.KindAESCTR, "vacation video")

	assert.Equal(t, "vacation video.mp4", server.decodeFileName(rc, encoded+".mp4"))
	assert.Empty(t, server.decodeFileName(rc, ""))
	// a plain, never-encrypted name never decodes back to itself
	assert.NotEqual(t, "already-plain.mp4", server.decodeFileName(rc, "already-plain.mp4"))
}
