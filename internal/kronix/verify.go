package kronix

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Verifier authenticates a downloaded archive against a detached signature.
type Verifier interface {
	Verify(ctx context.Context, archivePath string, sig []byte) error
}

// NewDefaultVerifier picks the best available verifier: gpgv if installed,
// then gpg. Returns nil when neither exists; the caller decides whether to
// proceed unverified.
func NewDefaultVerifier(keyring string) Verifier {
	if path, err := exec.LookPath("gpgv"); err == nil {
		return &gpgVerifier{bin: path, keyring: keyring}
	}
	if path, err := exec.LookPath("gpg"); err == nil {
		return &gpgVerifier{bin: path, keyring: keyring, useVerifyFlag: true}
	}
	return nil
}

// gpgVerifier shells out to gpgv or gpg for OpenPGP detached signatures,
// the format the GNU and qemu release infrastructure publishes.
type gpgVerifier struct {
	bin           string
	keyring       string
	useVerifyFlag bool
}

func (v *gpgVerifier) Verify(ctx context.Context, archivePath string, sig []byte) error {
	sigFile, err := os.CreateTemp("", filepath.Base(archivePath)+".*.sig")
	if err != nil {
		return fmt.Errorf("cannot stage signature: %w", err)
	}
	defer os.Remove(sigFile.Name())
	if _, err := sigFile.Write(sig); err != nil {
		sigFile.Close()
		return fmt.Errorf("cannot stage signature: %w", err)
	}
	sigFile.Close()

	var args []string
	if v.useVerifyFlag {
		args = append(args, "--verify")
	}
	if v.keyring != "" {
		args = append(args, "--keyring", v.keyring)
	}
	args = append(args, sigFile.Name(), archivePath)

	cmd := exec.CommandContext(ctx, v.bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		debugf("%s output:\n%s", v.bin, out)
		return fmt.Errorf("%s: %w: %v", filepath.Base(archivePath), ErrBadSignature, err)
	}
	return nil
}

// Ed25519Verifier checks a hex-encoded raw ed25519 signature. Used for
// archives re-signed on a private mirror, where OpenPGP would be overkill.
type Ed25519Verifier struct {
	PublicKey ed25519.PublicKey
}

func (v *Ed25519Verifier) Verify(_ context.Context, archivePath string, sig []byte) error {
	signature, err := hex.DecodeString(strings.TrimSpace(string(sig)))
	if err != nil {
		return fmt.Errorf("invalid signature format: %w", err)
	}
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return err
	}
	if !ed25519.Verify(v.PublicKey, data, signature) {
		return fmt.Errorf("%s: %w", filepath.Base(archivePath), ErrBadSignature)
	}
	return nil
}
