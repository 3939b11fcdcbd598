package kronix

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Component is one piece of the toolchain.
type Component string

const (
	Binutils Component = "binutils"
	Nasm     Component = "nasm"
	GCC      Component = "gcc"
	GDB      Component = "gdb"
	Qemu     Component = "qemu"
	Limine   Component = "limine"

	// All is the pseudo-component expanding to every buildable component
	// except limine, which the kernel build drives on its own.
	All Component = "all"
)

const gnuOriginalURL = "https://ftp.gnu.org/gnu"

// source describes where a component's releases live. Archive and signature
// URLs are templates over ${pkg} and ${version}.
type source struct {
	listing string
	archive string
	signed  bool
}

type componentInfo struct {
	gnu    bool
	order  int
	source *source
}

// The build-dependency order is fixed: the linker and assembler suite must be
// installed before the compiler can be configured against it.
var components = map[Component]componentInfo{
	Binutils: {gnu: true, order: 0, source: &source{
		listing: gnuOriginalURL + "/binutils/",
		archive: gnuOriginalURL + "/${pkg}/${pkg}-${version}.tar.xz",
		signed:  true,
	}},
	Nasm: {order: 1, source: &source{
		listing: "https://www.nasm.us/pub/nasm/releasebuilds/",
		archive: "https://www.nasm.us/pub/nasm/releasebuilds/${version}/${pkg}-${version}.tar.xz",
	}},
	GCC: {gnu: true, order: 2, source: &source{
		listing: gnuOriginalURL + "/gcc/",
		archive: gnuOriginalURL + "/${pkg}/${pkg}-${version}/${pkg}-${version}.tar.xz",
		signed:  true,
	}},
	GDB: {gnu: true, order: 3, source: &source{
		listing: gnuOriginalURL + "/gdb/",
		archive: gnuOriginalURL + "/${pkg}/${pkg}-${version}.tar.xz",
		signed:  true,
	}},
	Qemu: {order: 4, source: &source{
		listing: "https://download.qemu.org/",
		archive: "https://download.qemu.org/${pkg}-${version}.tar.xz",
		signed:  true,
	}},
	Limine: {order: 5},
}

// ParseComponent validates a single component name.
func ParseComponent(s string) (Component, error) {
	c := Component(strings.ToLower(strings.TrimSpace(s)))
	if c == All {
		return All, nil
	}
	if _, ok := components[c]; !ok {
		return "", fmt.Errorf("unknown component %q", s)
	}
	return c, nil
}

// ParsePackages expands a comma-separated component list into the requested
// set, deduplicated and sorted in build-dependency order. The pseudo-value
// "all" expands to DefaultSet.
func ParsePackages(list string) ([]Component, error) {
	seen := make(map[Component]bool)
	var pkgs []Component
	for _, field := range strings.Split(list, ",") {
		if strings.TrimSpace(field) == "" {
			continue
		}
		c, err := ParseComponent(field)
		if err != nil {
			return nil, err
		}
		if c == All {
			for _, d := range DefaultSet() {
				if !seen[d] {
					seen[d] = true
					pkgs = append(pkgs, d)
				}
			}
			continue
		}
		if !seen[c] {
			seen[c] = true
			pkgs = append(pkgs, c)
		}
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("empty component list")
	}
	sortByBuildOrder(pkgs)
	return pkgs, nil
}

// DefaultSet returns every buildable component except limine, in build order.
func DefaultSet() []Component {
	var pkgs []Component
	for c := range components {
		if c != Limine {
			pkgs = append(pkgs, c)
		}
	}
	sortByBuildOrder(pkgs)
	return pkgs
}

func sortByBuildOrder(pkgs []Component) {
	sort.Slice(pkgs, func(i, j int) bool {
		return components[pkgs[i]].order < components[pkgs[j]].order
	})
}

// IsGNU reports whether the component is hosted on the GNU release
// infrastructure.
func (c Component) IsGNU() bool {
	return components[c].gnu
}

func (c Component) String() string {
	return string(c)
}

// Descriptor is the resolved set of URLs needed to fetch one release.
type Descriptor struct {
	Pkg     Component
	Version string
	Archive string
	Sig     string // empty when upstream publishes no signature
	Suffix  string // ".tar.xz", ".zip", ...
}

// ArchiveName is the local file name the archive is stored under.
func (d *Descriptor) ArchiveName() string {
	return fmt.Sprintf("%s-%s%s", d.Pkg, d.Version, d.Suffix)
}

// ListingURL returns the release listing for the component, with the GNU
// mirror substituted when one is configured.
func (c Component) ListingURL(gnuMirror string) (string, error) {
	info := components[c]
	if info.source == nil {
		return "", fmt.Errorf("%s: %w", c, ErrNoSource)
	}
	return applyGnuMirror(info.source.listing, gnuMirror), nil
}

// ResolveDescriptor expands the component's URL templates with the given
// version. The signature URL, when the source is signed, is the archive URL
// with ".sig" appended.
func (c Component) ResolveDescriptor(version, gnuMirror string) (*Descriptor, error) {
	info := components[c]
	if info.source == nil {
		return nil, fmt.Errorf("%s: %w", c, ErrNoSource)
	}
	expand := func(tmpl string) string {
		return os.Expand(tmpl, func(key string) string {
			switch key {
			case "pkg":
				return string(c)
			case "version":
				return version
			}
			return ""
		})
	}
	d := &Descriptor{
		Pkg:     c,
		Version: version,
		Archive: applyGnuMirror(expand(info.source.archive), gnuMirror),
		Suffix:  archiveSuffix(info.source.archive),
	}
	if info.source.signed {
		d.Sig = d.Archive + ".sig"
	}
	return d, nil
}

// archiveSuffix infers the archive suffix from a URL or template: when the
// second-to-last dot-segment is "tar" the suffix spans both segments.
func archiveSuffix(url string) string {
	parts := strings.Split(url, ".")
	if len(parts) >= 2 && parts[len(parts)-2] == "tar" {
		return ".tar." + parts[len(parts)-1]
	}
	return "." + parts[len(parts)-1]
}

// applyGnuMirror checks if a URL is a canonical GNU URL and replaces it with
// the user-configured mirror if one is set. It returns the (potentially
// modified) URL.
func applyGnuMirror(originalURL, mirror string) string {
	if mirror != "" && strings.HasPrefix(originalURL, gnuOriginalURL) {
		return strings.Replace(originalURL, gnuOriginalURL, mirror, 1)
	}
	return originalURL
}
