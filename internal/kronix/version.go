package kronix

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"golang.org/x/net/html"
)

// Resolver discovers the latest released version of a component from its
// upstream listing.
type Resolver struct {
	Client *http.Client
}

func NewResolver() *Resolver {
	return &Resolver{Client: newHTTPClient()}
}

// Latest fetches the release listing for pkg and returns the newest version
// present. Listing entries that do not conform to the version pattern are
// skipped; only an empty result is an error.
func (r *Resolver) Latest(ctx context.Context, pkg Component, listingURL string) (string, error) {
	var entries []string
	var err error
	switch {
	case strings.HasPrefix(listingURL, "http://"), strings.HasPrefix(listingURL, "https://"):
		entries, err = r.listHTTP(ctx, listingURL)
	case strings.HasPrefix(listingURL, "ftp://"):
		entries, err = listFTP(ctx, listingURL)
	default:
		return "", fmt.Errorf("listing %s: unsupported scheme", listingURL)
	}
	if err != nil {
		return "", fmt.Errorf("list %s releases: %w", pkg, err)
	}
	debugf("%d listing entries for %s\n", len(entries), pkg)

	v, err := latestVersion(string(pkg), entries)
	if err != nil {
		return "", fmt.Errorf("resolve %s version from %s: %w", pkg, listingURL, err)
	}
	debugf("latest %s version is %s\n", pkg, v)
	return v, nil
}

// versionPattern matches one listing entry for pkg: an optional leading
// slash, an optional "pkg-" prefix, a 2- or 3-part dotted numeric version,
// and an optional archive suffix or trailing slash. Anything else, including
// pre-release suffixes, does not match.
func versionPattern(pkg string) *regexp.Regexp {
	return regexp.MustCompile(`^/?(` + regexp.QuoteMeta(pkg) + `-)?(\d+\.\d+(\.\d+)?)((\.(zip|tar.*)|/)?)$`)
}

func latestVersion(pkg string, entries []string) (string, error) {
	re := versionPattern(pkg)
	seen := make(map[string]bool)
	var versions []string
	for _, entry := range entries {
		m := re.FindStringSubmatch(strings.TrimSpace(entry))
		if m == nil {
			continue
		}
		if v := m[2]; !seen[v] {
			seen[v] = true
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return "", ErrNoMatchingVersion
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) > 0
	})
	return versions[0], nil
}

// compareVersions compares dotted version strings part by part, numerically
// where possible, treating missing parts as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := "0", "0"
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}

		// Try numeric compare
		ai, aerr := strconv.Atoi(av)
		bi, berr := strconv.Atoi(bv)
		if aerr == nil && berr == nil {
			if ai < bi {
				return -1
			}
			if ai > bi {
				return 1
			}
			continue
		}
		// Fallback string compare
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// listHTTP collects anchor entries (href plus link text) from an HTML
// directory listing.
func (r *Resolver) listHTTP(ctx context.Context, listingURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listingURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", listingURL, resp.Status)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	var entries []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && attr.Val != "" {
					entries = append(entries, attr.Val)
				}
			}
			if text := anchorText(n); text != "" {
				entries = append(entries, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return entries, nil
}

func anchorText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(sb.String())
}

// listFTP retrieves a raw name listing via NLST.
func listFTP(ctx context.Context, listingURL string) ([]string, error) {
	u, err := url.Parse(listingURL)
	if err != nil {
		return nil, err
	}
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}
	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s: %w", host, err)
	}
	defer conn.Quit()
	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return nil, fmt.Errorf("ftp login %s: %w", host, err)
	}
	names, err := conn.NameList(strings.TrimPrefix(u.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("ftp list %s: %w", u.Path, err)
	}
	return names, nil
}
