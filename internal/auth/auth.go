// Package auth verifies user credentials and carries the authenticated
// identity through request contexts.
package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidUsersFile is returned when a users file line cannot be parsed.
var ErrInvalidUsersFile = errors.New("invalid users file")

// Verifier checks a username and password.
type Verifier interface {
	Verify(ctx context.Context, user, password string) bool
}

// FileVerifier checks credentials against bcrypt hashes loaded from an
// htpasswd-style file of "user:hash" lines.
type FileVerifier struct {
	hashes map[string][]byte
}

// LoadFile reads a users file.
func LoadFile(path string) (*FileVerifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening users file: %w", err)
	}
	defer f.Close()

	v, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Parse reads "user:hash" lines. Blank lines and lines starting with # are
// skipped. Only bcrypt hashes are accepted.
func Parse(r io.Reader) (*FileVerifier, error) {
	v := &FileVerifier{hashes: make(map[string][]byte)}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		user, hash, ok := strings.Cut(line, ":")
		user = strings.TrimSpace(user)
		hash = strings.TrimSpace(hash)
		if !ok || user == "" || hash == "" {
			return nil, fmt.Errorf("%w: line %d: expected user:hash", ErrInvalidUsersFile, lineNo)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("%w: line %d: user %s: not a bcrypt hash", ErrInvalidUsersFile, lineNo, user)
		}
		v.hashes[user] = []byte(hash)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

// Verify reports whether password matches user's hash. Unknown users are
// compared against a dummy hash so they take as long as known ones.
func (v *FileVerifier) Verify(_ context.Context, user, password string) bool {
	hash, ok := v.hashes[user]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummy(), []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// Users returns the known usernames, sorted.
func (v *FileVerifier) Users() []string {
	users := make([]string, 0, len(v.hashes))
	for u := range v.hashes {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

var dummy = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("dnsgate-unknown-user"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("generating dummy hash: %v", err))
	}
	return h
})

type contextKey struct{}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFrom returns the authenticated user stored in ctx, if any.
func UserFrom(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(contextKey{}).(string)
	return user, ok && user != ""
}
