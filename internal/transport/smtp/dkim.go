package smtp

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/emersion/go-msgauth/dkim"
)

// signedHeaders are the header fields covered by the DKIM signature.
var signedHeaders = []string{
	"from",
	"to",
	"reply-to",
	"subject",
	"date",
	"message-id",
	"mime-version",
	"content-type",
}

// Signer adds a DKIM-Signature header to composed messages.
// A nil *Signer leaves messages untouched.
type Signer struct {
	domain   string
	selector string
	key      crypto.Signer
}

// NewSigner parses a PEM encoded RSA or Ed25519 key (PKCS#1 or PKCS#8).
// An empty domain means the domain of the sender address.
func NewSigner(selector, domain string, pemKey []byte) (*Signer, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, fmt.Errorf("dkim: selector is required")
	}
	key, err := parsePrivateKey(pemKey)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}
	return &Signer{
		domain:   strings.ToLower(strings.TrimSpace(domain)),
		selector: strings.TrimSpace(selector),
		key:      key,
	}, nil
}

// LoadSigner builds a Signer from an inline key or a key file. It returns
// (nil, nil) when nothing is configured.
func LoadSigner(selector, domain, keyPath, inlineKey string) (*Signer, error) {
	if selector == "" && keyPath == "" && inlineKey == "" {
		return nil, nil
	}

	var pemData []byte
	switch {
	case inlineKey != "":
		pemData = []byte(inlineKey)
	case keyPath != "":
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("dkim: read private key: %w", err)
		}
		pemData = data
	default:
		return nil, fmt.Errorf("dkim: selector %q has no private key", selector)
	}
	return NewSigner(selector, domain, pemData)
}

func (s *Signer) Selector() string {
	if s == nil {
		return ""
	}
	return s.selector
}

// Sign returns message with a DKIM signature prepended. Messages that are
// already signed are returned as is.
func (s *Signer) Sign(message []byte, from string) ([]byte, error) {
	if s == nil || s.key == nil {
		return message, nil
	}
	if hasSignature(message) {
		return message, nil
	}

	domain := s.domain
	if domain == "" {
		domain = domainOf(from)
	}
	if domain == "" {
		return nil, fmt.Errorf("dkim: unable to determine signing domain from %q", from)
	}

	var signed bytes.Buffer
	err := dkim.Sign(&signed, bytes.NewReader(normalizeLineEndings(message)), &dkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
		HeaderKeys:             signedHeaders,
	})
	if err != nil {
		return nil, fmt.Errorf("dkim: sign: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if signer, ok := key.(crypto.Signer); ok {
				return signer, nil
			}
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
		pemData = rest
	}
	return nil, fmt.Errorf("no private key found in PEM data")
}

// domainOf returns the lower-cased domain of an address, or "".
func domainOf(address string) string {
	address = strings.Trim(strings.TrimSpace(address), "<>")
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return strings.ToLower(address[i+1:])
	}
	return ""
}

func hasSignature(message []byte) bool {
	upper := bytes.ToUpper(message)
	return bytes.HasPrefix(upper, []byte("DKIM-SIGNATURE:")) || bytes.Contains(upper, []byte("\nDKIM-SIGNATURE:"))
}

func normalizeLineEndings(data []byte) []byte {
	if bytes.Contains(data, []byte("\r\n")) || !bytes.Contains(data, []byte("\n")) {
		return data
	}
	return bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
}
