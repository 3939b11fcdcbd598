package kronix

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

func newHTTPClient() *http.Client {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	// Default is 10s; some release hosts are slow to complete the handshake.
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // 5 min total timeout for large downloads
	}
}

// Fetcher retrieves, authenticates and unpacks release archives.
type Fetcher struct {
	Client   *http.Client
	Verifier Verifier // nil skips verification with a warning
	Mirror   *Mirror  // optional archive cache
	Observer StepObserver
	Quiet    bool
}

func NewFetcher(obs StepObserver) *Fetcher {
	return &Fetcher{Client: newHTTPClient(), Observer: obs}
}

// Fetch downloads the described archive into srcDir, verifies it when a
// signature is published, and extracts it into srcDir/<pkg>. It returns the
// extracted directory.
func (f *Fetcher) Fetch(ctx context.Context, d *Descriptor, srcDir string) (string, error) {
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return "", err
	}
	archivePath := filepath.Join(srcDir, d.ArchiveName())

	// Serialize concurrent fetches of the same archive across processes.
	lockFile, err := os.OpenFile(archivePath+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return "", fmt.Errorf("cannot create lock for %s: %w", archivePath, err)
	}
	defer lockFile.Close()
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		return "", fmt.Errorf("cannot lock %s: %w", archivePath, err)
	}
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	fromUpstream := false
	if fi, err := os.Stat(archivePath); err == nil && fi.Size() > 0 {
		debugf("using cached archive %s\n", archivePath)
	} else {
		fromMirror := false
		if f.Mirror != nil {
			if err := f.Mirror.Download(ctx, d.ArchiveName(), archivePath); err == nil {
				f.Observer.Infof("fetched %s from mirror", d.ArchiveName())
				fromMirror = true
			} else {
				debugf("mirror miss for %s: %v\n", d.ArchiveName(), err)
			}
		}
		if !fromMirror {
			if err := f.download(ctx, d.Archive, archivePath); err != nil {
				return "", fmt.Errorf("download %s: %w", d.Archive, err)
			}
			fromUpstream = true
		}
	}

	if err := f.verify(ctx, d, archivePath); err != nil {
		return "", err
	}

	destDir := filepath.Join(srcDir, string(d.Pkg))
	if err := extractArchive(archivePath, destDir); err != nil {
		return "", err
	}

	if fromUpstream && f.Mirror != nil {
		if err := f.Mirror.Upload(ctx, d.ArchiveName(), archivePath); err != nil {
			f.Observer.Warnf("mirror upload of %s failed: %v", d.ArchiveName(), err)
		}
	}
	return destDir, nil
}

// verify downloads the detached signature and checks the archive against it.
// A source without a published signature only warns; a bad signature is
// fatal.
func (f *Fetcher) verify(ctx context.Context, d *Descriptor, archivePath string) error {
	if d.Sig == "" {
		f.Observer.Warnf("no signature file for package %s", d.Pkg)
		return nil
	}
	if f.Verifier == nil {
		f.Observer.Warnf("no signature verifier available; skipping verification of %s", d.ArchiveName())
		return nil
	}
	sig, err := f.fetchBytes(ctx, d.Sig)
	if err != nil {
		f.Observer.Warnf("could not fetch signature for %s: %v", d.ArchiveName(), err)
		return nil
	}
	if err := f.Verifier.Verify(ctx, archivePath, sig); err != nil {
		return err
	}
	debugf("signature of %s verified\n", d.ArchiveName())
	return nil
}

// download retrieves rawURL into dest via the transport its scheme implies,
// staging through a .part file.
func (f *Fetcher) download(ctx context.Context, rawURL, dest string) error {
	part := dest + ".part"
	out, err := os.Create(part)
	if err != nil {
		return err
	}

	switch {
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		err = f.downloadHTTP(ctx, rawURL, out)
	case strings.HasPrefix(rawURL, "ftp://"):
		err = downloadFTP(ctx, rawURL, out)
	default:
		err = fmt.Errorf("unsupported scheme in %s", rawURL)
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(part)
		return err
	}
	return os.Rename(part, dest)
}

func (f *Fetcher) downloadHTTP(ctx context.Context, rawURL string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}

	if !f.Quiet && term.IsTerminal(int(os.Stdout.Fd())) {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(rawURL))
		defer bar.Close()
		out = io.MultiWriter(out, bar)
	}
	_, err = io.Copy(out, resp.Body)
	return err
}

func downloadFTP(ctx context.Context, rawURL string, out io.Writer) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}
	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("ftp dial %s: %w", host, err)
	}
	defer conn.Quit()
	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return fmt.Errorf("ftp login %s: %w", host, err)
	}
	resp, err := conn.Retr(strings.TrimPrefix(u.Path, "/"))
	if err != nil {
		return fmt.Errorf("ftp retr %s: %w", u.Path, err)
	}
	defer resp.Close()
	_, err = io.Copy(out, resp)
	return err
}

// fetchBytes retrieves a small remote file (a signature) into memory.
func (f *Fetcher) fetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	var buf bytes.Buffer
	switch {
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("GET %s: %s", rawURL, resp.Status)
		}
		if _, err := io.Copy(&buf, resp.Body); err != nil {
			return nil, err
		}
	case strings.HasPrefix(rawURL, "ftp://"):
		if err := downloadFTP(ctx, rawURL, &buf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported scheme in %s", rawURL)
	}
	return buf.Bytes(), nil
}
