package proxy

import (
	"strings"

	"github.com/cloudrive/drive-stream-proxy/pkg/flowcipher"
)

// DetectEncType inspects a vendor-side file description for the encryption
// markers written when the file was uploaded. Returns "" for plain files.
func DetectEncType(description string) string {
	if strings.Contains(description, flowcipher.EncTypePassword) {
		return flowcipher.EncTypePassword
	}
	if strings.Contains(description, flowcipher.EncTypeUserID) {
		return flowcipher.EncTypeUserID
	}
	return ""
}

// encPassword selects the password material for a request. An explicit
// password always wins; otherwise xbyEncrypt1 uses the configured
// passphrase and xbyEncrypt2 derives from the requesting user's identity.
// The cipher itself never makes this choice.
func (s *Server) encPassword(userID, encType, inputPassword string) string {
	if encType == "" {
		return ""
	}
	if inputPassword != "" {
		return inputPassword
	}
	if encType == flowcipher.EncTypeUserID {
		return userID
	}
	return s.config.Security.Password
}

// newFlowCipher builds the cipher session for one request, or nil when the
// content is not encrypted (passthrough).
func (s *Server) newFlowCipher(userID string, fileSize int64, encType, inputPassword string) (*flowcipher.FlowCipher, error) {
	if encType == "" {
		return nil, nil
	}
	kind, err := flowcipher.ParseKind(s.config.Security.EncKind)
	if err != nil {
		return nil, err
	}
	password := s.encPassword(userID, encType, inputPassword)
	return flowcipher.New(kind, password, fileSize)
}
