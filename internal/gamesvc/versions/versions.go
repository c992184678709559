// Package versions lists the image tags a game can be provisioned with.
package versions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultHubURL   = "https://hub.docker.com"
	DefaultCacheTTL = time.Hour

	pageSize = 100
	maxPages = 20
)

var semver = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)

type tagPage struct {
	Next    string `json:"next"`
	Results []struct {
		Name string `json:"name"`
	} `json:"results"`
}

// Lister reads tags from the Docker Hub v2 API. The cache is optional.
type Lister struct {
	client  *http.Client
	baseURL string
	image   string
	cache   Cache
	ttl     time.Duration
}

func NewLister(image string, cache Cache, ttl time.Duration) *Lister {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Lister{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: DefaultHubURL,
		image:   image,
		cache:   cache,
		ttl:     ttl,
	}
}

func (l *Lister) WithBaseURL(baseURL string) *Lister {
	l.baseURL = strings.TrimRight(baseURL, "/")
	return l
}

func (l *Lister) cacheKey() string {
	return "gamehost:versions:" + l.image
}

// Versions returns "latest" followed by x.y.z tags, newest first.
func (l *Lister) Versions(ctx context.Context) ([]string, error) {
	if l.cache != nil {
		cached, ok, err := l.cache.Get(ctx, l.cacheKey())
		if err != nil {
			log.WithError(err).Warn("versions cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	tags, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}
	versions := Filter(tags)

	if l.cache != nil {
		if err := l.cache.Set(ctx, l.cacheKey(), versions, l.ttl); err != nil {
			log.WithError(err).Warn("versions cache write failed")
		}
	}
	return versions, nil
}

func (l *Lister) fetch(ctx context.Context) ([]string, error) {
	first, err := url.Parse(fmt.Sprintf("%s/v2/repositories/%s/tags?page_size=%d", l.baseURL, l.image, pageSize))
	if err != nil {
		return nil, fmt.Errorf("tags url: %w", err)
	}

	var tags []string
	next := first.String()
	for page := 0; next != "" && page < maxPages; page++ {
		p, err := l.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, r := range p.Results {
			tags = append(tags, r.Name)
		}
		if next, err = nextPage(first, p.Next); err != nil {
			return nil, err
		}
	}
	return tags, nil
}

// nextPage only follows links to further pages of the same tag listing.
func nextPage(first *url.URL, next string) (string, error) {
	if next == "" {
		return "", nil
	}
	u, err := first.Parse(next)
	if err != nil {
		return "", fmt.Errorf("next page %q: %w", next, err)
	}
	if u.Scheme != first.Scheme || u.Host != first.Host || u.Path != first.Path {
		return "", fmt.Errorf("next page %q is outside %s://%s%s", next, first.Scheme, first.Host, first.Path)
	}
	return u.String(), nil
}

func (l *Lister) fetchPage(ctx context.Context, pageURL string) (*tagPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tags: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch tags: unexpected status %s", resp.Status)
	}

	page := &tagPage{}
	if err := json.NewDecoder(resp.Body).Decode(page); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return page, nil
}

// Filter keeps "latest" and x.y.z tags and orders them newest first.
func Filter(tags []string) []string {
	var out []string
	latest := false
	seen := map[string]bool{}
	for _, tag := range tags {
		switch {
		case tag == models.LatestVersion:
			latest = true
		case semver.MatchString(tag) && !seen[tag]:
			seen[tag] = true
			out = append(out, tag)
		}
	}
	slices.SortFunc(out, func(a, b string) int {
		return compare(b, a)
	})
	if latest {
		out = append([]string{models.LatestVersion}, out...)
	}
	return out
}

func compare(a, b string) int {
	pa, pb := semver.FindStringSubmatch(a), semver.FindStringSubmatch(b)
	for i := 1; i <= 3; i++ {
		x, _ := strconv.Atoi(pa[i])
		y, _ := strconv.Atoi(pb[i])
		if x != y {
			return x - y
		}
	}
	return 0
}
