package dnsupdate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// ErrInvalidKeyFile is returned when a key file has no usable key clause.
var ErrInvalidKeyFile = errors.New("invalid tsig key file")

var (
	keyNameRe   = regexp.MustCompile(`\bkey\s+"?([^"\s{]+)"?\s*\{`)
	keyAlgRe    = regexp.MustCompile(`\balgorithm\s+"?([^";\s]+)"?\s*;`)
	keySecretRe = regexp.MustCompile(`\bsecret\s+"([^"]+)"\s*;`)
)

// KeyFile is a TSIG key as written by tsig-keygen or dnssec-keygen:
//
//	key "dnsgate" {
//		algorithm hmac-sha256;
//		secret "c2VjcmV0";
//	};
type KeyFile struct {
	Name      string
	Algorithm string
	Secret    string
}

// ParseKeyFile reads the first key clause from a BIND key file.
func ParseKeyFile(path string) (*KeyFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening key file: %w", err)
	}
	defer f.Close()

	k, err := ParseKey(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return k, nil
}

// ParseKey reads the first key clause from r. Whole-line # and // comments
// are ignored.
func ParseKey(r io.Reader) (*KeyFile, error) {
	var b strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		b.WriteString(stripComment(scanner.Text()))
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	text := b.String()

	name := keyNameRe.FindStringSubmatch(text)
	if name == nil {
		return nil, fmt.Errorf("%w: no key clause", ErrInvalidKeyFile)
	}
	// Only look inside the first clause.
	body := text[strings.Index(text, name[0])+len(name[0]):]
	if end := strings.Index(body, "}"); end >= 0 {
		body = body[:end]
	}

	secret := keySecretRe.FindStringSubmatch(body)
	if secret == nil {
		return nil, fmt.Errorf("%w: key %q has no secret", ErrInvalidKeyFile, name[1])
	}

	k := &KeyFile{
		Name:      name[1],
		Algorithm: DefaultTSIGAlgorithm,
		Secret:    secret[1],
	}
	if alg := keyAlgRe.FindStringSubmatch(body); alg != nil {
		k.Algorithm = alg[1]
	}
	return k, nil
}

// TSIG converts the key file to a validated TSIG key.
func (k *KeyFile) TSIG() (*TSIG, error) {
	return NewTSIG(k.Name, k.Secret, k.Algorithm)
}

func stripComment(line string) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
		return ""
	}
	return line
}
