package usecase

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"hyperstream/internal/domain"
)

// LocalIDPrefix marks stream ids of sessions backed by a local file.
const LocalIDPrefix = "local-"

const maxSlugLen = 96

var defaultTrackers = []string{
	"udp://open.demonii.com:1337/announce",
	"udp://tracker.openbittorrent.com:80",
}

// DefaultTrackers returns the trackers appended to magnets built from a bare
// infohash.
func DefaultTrackers() []string {
	return append([]string(nil), defaultTrackers...)
}

// Slugify folds name to lowercase ASCII words joined by dashes. Accents are
// stripped, everything else that is not a letter or digit separates words.
func Slugify(name string) string {
	// transform.Chain is stateful, build one per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if b.Len() > 0 && !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimSuffix(slug[:maxSlugLen], "-")
	}
	return slug
}

// NormalizeInfoHash accepts a 40-char hex or 32-char base32 infohash, or a
// magnet URI carrying one, and returns the lowercase hex form.
func NormalizeInfoHash(raw string) (string, error) {
	h := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(h), "magnet:") {
		h = magnetInfoHash(h)
	}
	switch len(h) {
	case 40:
		if _, err := hex.DecodeString(h); err == nil {
			return strings.ToLower(h), nil
		}
	case 32:
		if b, err := base32.StdEncoding.DecodeString(strings.ToUpper(h)); err == nil && len(b) == 20 {
			return hex.EncodeToString(b), nil
		}
	}
	return "", fmt.Errorf("%w: infohash %q", domain.ErrBadIdentifier, raw)
}

func magnetInfoHash(magnet string) string {
	lower := strings.ToLower(magnet)
	idx := strings.Index(lower, "xt=urn:btih:")
	if idx == -1 {
		return ""
	}
	rest := magnet[idx+len("xt=urn:btih:"):]
	if end := strings.Index(rest, "&"); end != -1 {
		rest = rest[:end]
	}
	return rest
}

// BuildMagnet renders a magnet URI for hash with a display name and trackers.
func BuildMagnet(hash, name string, trackers []string) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(hash)
	if name = strings.TrimSpace(name); name != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(name))
	}
	for _, tr := range trackers {
		if tr = strings.TrimSpace(tr); tr == "" {
			continue
		}
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	return b.String()
}

// torrentCacheName derives the cache file name for a .torrent URL from its
// last path segment, falling back to the whole URL.
func torrentCacheName(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Slugify(rawURL) + ".torrent"
	}
	base := path.Base(u.Path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	slug := Slugify(base)
	if slug == "" {
		slug = Slugify(u.Host + u.Path + "?" + u.RawQuery)
	}
	if slug == "" {
		slug = "torrent"
	}
	return slug + ".torrent"
}

// localStreamID derives the stream id for a file under the media root. The
// slug keeps ids readable; the hash of the exact relative path keeps files
// that slug alike (case, punctuation, separators) apart.
func localStreamID(rel string) string {
	slug := Slugify(rel)
	if slug == "" {
		slug = "file"
	}
	sum := sha256.Sum256([]byte(rel))
	return LocalIDPrefix + slug + "-" + hex.EncodeToString(sum[:4])
}
