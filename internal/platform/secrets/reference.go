package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// reference is a parsed secret://name[?version=N&project=P].
type reference struct {
	canonical string
	secret    string
	version   string
	project   string
}

func parseReference(raw string) (reference, error) {
	if strings.TrimSpace(raw) == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	query := u.Query()
	return reference{
		canonical: "secret://" + name,
		secret:    name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func (r reference) versionOrLatest() string {
	if r.version == "" {
		return latestVersion
	}
	return r.version
}

func (r reference) versionedKey() string {
	return r.canonical + "#" + r.versionOrLatest()
}

// masked identifies the secret on metrics without exposing its name.
func (r reference) masked() string {
	sum := sha256.Sum256([]byte(r.canonical))
	return hex.EncodeToString(sum[:8])
}
