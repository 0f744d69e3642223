// Package canonical приводит URL объявлений к каноническому виду и выводит из него
// идентичность для дедупликации.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"listing-pipeline-service/internal/core/domain"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// trackingParams - параметры, не влияющие на содержимое страницы
var trackingParams = map[string]struct{}{
	"fbclid": {}, "gclid": {}, "yclid": {}, "msclkid": {}, "_ga": {},
	"ref": {}, "ref_src": {}, "reason": {}, "search_reason": {}, "bs": {},
	"mc_cid": {}, "mc_eid": {}, "igshid": {}, "srsltid": {},
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	_, ok := trackingParams[key]
	return ok
}

// Normalize: хост в нижнем регистре без www., без фрагмента и трекинговых параметров,
// оставшиеся параметры отсортированы, хвостовой слеш убран (кроме корня).
// Регистр пути сохраняется: идентификаторы порталов в пути регистрозависимы.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("canonical: parse %q: %w", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("canonical: unsupported scheme in %q", raw)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("canonical: missing host in %q", raw)
	}
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host = host + ":" + port
	}

	path := u.EscapedPath()
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		path = "/"
	}

	out := scheme + "://" + host + path
	if query := canonicalQuery(u.Query(), nil); query != "" {
		out += "?" + query
	}
	return out, nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

// canonicalQuery кодирует параметры в стабильном порядке, без трекинговых и drop-ключей
func canonicalQuery(values url.Values, drop map[string]struct{}) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if isTrackingParam(key) {
			continue
		}
		if _, skip := drop[strings.ToLower(key)]; skip {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		vals := append([]string(nil), values[key]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Hash - sha256 канонического URL в hex
func Hash(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

var listingIDPatterns = map[domain.SourceKey]*regexp.Regexp{
	domain.SourceOtodom: regexp.MustCompile(`-ID([0-9A-Za-z]+)$`),
	domain.SourceOlx:    regexp.MustCompile(`-ID([0-9A-Za-z]+)\.html$`),
	domain.SourceGratka: regexp.MustCompile(`/(\d{6,})$`),
}

// DeriveListingID ищет идентификатор объявления в хвосте пути.
// nil не ошибка: он только переключает идентичность на режим url_hash.
func DeriveListingID(source domain.SourceKey, normalizedURL string) *string {
	pattern, ok := listingIDPatterns[source]
	if !ok {
		return nil
	}
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return nil
	}
	m := pattern.FindStringSubmatch(u.Path)
	if len(m) < 2 || m[1] == "" {
		return nil
	}
	id := m[1]
	return &id
}

// Resolve строит полную идентичность кандидата
func Resolve(source domain.SourceKey, rawURL string) (domain.ListingIdentity, error) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return domain.ListingIdentity{}, err
	}
	return domain.ListingIdentity{
		Source:          source,
		SourceListingID: DeriveListingID(source, normalized),
		SourceURL:       strings.TrimSpace(rawURL),
		NormalizedURL:   normalized,
		URLHash:         Hash(normalized),
	}, nil
}

// SameSearch сравнивает запрошенный и итоговый URL поиска без параметров пагинации.
// Различие означает, что портал молча изменил фильтры.
func SameSearch(requestedURL, finalURL string, paginationKeys ...string) bool {
	if finalURL == "" {
		return true
	}
	a, errA := searchKey(requestedURL, paginationKeys)
	b, errB := searchKey(finalURL, paginationKeys)
	if errA != nil || errB != nil {
		return false
	}
	return a == b
}

func searchKey(raw string, paginationKeys []string) (string, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", err
	}
	drop := make(map[string]struct{}, len(paginationKeys))
	for _, key := range paginationKeys {
		drop[strings.ToLower(key)] = struct{}{}
	}
	key := u.Scheme + "://" + u.Host + u.EscapedPath()
	if query := canonicalQuery(u.Query(), drop); query != "" {
		key += "?" + query
	}
	return key, nil
}

// Absolute разрешает ссылку из выдачи относительно адреса страницы
func Absolute(baseURL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("canonical: empty href")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("canonical: parse href %q: %w", href, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("canonical: parse base %q: %w", baseURL, err)
	}
	return base.ResolveReference(ref).String(), nil
}
