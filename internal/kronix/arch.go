package kronix

import (
	"fmt"
	"regexp"
	"strings"
)

// Arch is a supported target architecture in its canonical spelling.
type Arch string

const (
	ArchAmd64   Arch = "amd64"
	ArchX86     Arch = "x86"
	ArchAarch64 Arch = "aarch64"
	ArchRiscv64 Arch = "riscv64"
	ArchPpc64   Arch = "ppc64"
)

var i86Pattern = regexp.MustCompile(`^i[3-9]86$`)

// ParseArch maps loose user input onto a canonical architecture. Accepted
// aliases: x86_64 and x86-64 for amd64, iN86 spellings for x86, arm64 for
// aarch64, powerpc64 for ppc64.
func ParseArch(s string) (Arch, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "amd64", "x86_64", "x86-64":
		return ArchAmd64, nil
	case "x86":
		return ArchX86, nil
	case "aarch64", "arm64":
		return ArchAarch64, nil
	case "riscv64":
		return ArchRiscv64, nil
	case "ppc64", "powerpc64":
		return ArchPpc64, nil
	default:
		if i86Pattern.MatchString(v) {
			return ArchX86, nil
		}
		return "", fmt.Errorf("unsupported architecture %q", s)
	}
}

// GNUArch returns the architecture component of the GNU triplet.
func (a Arch) GNUArch() string {
	switch a {
	case ArchAmd64:
		return "x86_64"
	case ArchX86:
		return "i686"
	case ArchPpc64:
		return "powerpc64"
	default:
		return string(a)
	}
}

// Triplet returns the freestanding target triplet the toolchain is built
// for, e.g. x86_64-unknown-none-elf for amd64.
func (a Arch) Triplet() string {
	return a.GNUArch() + "-unknown-none-elf"
}

// QemuSystem returns the qemu system-emulation target name.
func (a Arch) QemuSystem() string {
	switch a {
	case ArchAmd64:
		return "x86_64"
	case ArchX86:
		return "i386"
	default:
		return string(a)
	}
}

func (a Arch) String() string {
	return string(a)
}
