package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// skippedExtensions lists path suffixes that never carry indexable text.
var skippedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".webp": {}, ".svg": {}, ".ico": {}, ".tif": {}, ".tiff": {},
	".zip": {}, ".rar": {}, ".7z": {}, ".tar": {}, ".gz": {}, ".tgz": {}, ".bz2": {}, ".xz": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".mkv": {}, ".wav": {}, ".ogg": {}, ".webm": {}, ".flv": {},
	".css": {}, ".js": {}, ".json": {}, ".xml": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {}, ".odt": {}, ".rtf": {},
	".exe": {}, ".dmg": {}, ".apk": {}, ".iso": {}, ".bin": {},
}

// NormalizeRootURL returns the site root with a lowercase scheme/host and a trailing slash.
func NormalizeRootURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawQuery = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

// RootOf returns scheme://host/ for an absolute URL.
func RootOf(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + "/", nil
}

// RelativePath returns the site-relative path of rawURL, always starting with
// "/". ok is false when rawURL is not under root.
func RelativePath(rawURL, root string) (string, bool) {
	rawURL = StripFragment(rawURL)
	if !strings.HasPrefix(rawURL, root) {
		// Tolerate "https://host" for root "https://host/".
		if rawURL+"/" == root {
			return "/", true
		}
		return "", false
	}
	rest := rawURL[len(root):]
	if rest == "" {
		return "/", true
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest, true
}

// StripFragment drops everything from the first '#'.
func StripFragment(raw string) string {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// ResolveLink turns href into an absolute URL relative to base. Empty is returned
// for unparseable links and non-http schemes (mailto:, javascript:, tel:).
func ResolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String()
}

// HasSkippedExtension reports whether the URL path ends in a known non-text extension.
func HasSkippedExtension(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return false
	}
	_, skip := skippedExtensions[ext]
	return skip
}
