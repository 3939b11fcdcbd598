package kronix

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArch(t *testing.T) {
	tests := []struct {
		in   string
		want Arch
	}{
		{"amd64", ArchAmd64},
		{"x86_64", ArchAmd64},
		{"x86-64", ArchAmd64},
		{"X86_64", ArchAmd64},
		{" amd64 ", ArchAmd64},
		{"x86", ArchX86},
		{"i386", ArchX86},
		{"i686", ArchX86},
		{"aarch64", ArchAarch64},
		{"arm64", ArchAarch64},
		{"riscv64", ArchRiscv64},
		{"ppc64", ArchPpc64},
		{"powerpc64", ArchPpc64},
	}
	for _, tc := range tests {
		got, err := ParseArch(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
	}

	_, err := ParseArch("vax")
	require.Error(t, err)
	_, err = ParseArch("i286")
	require.Error(t, err)
}

func TestArchTriplet(t *testing.T) {
	require.Equal(t, "x86_64-unknown-none-elf", ArchAmd64.Triplet())
	require.Equal(t, "i686-unknown-none-elf", ArchX86.Triplet())
	require.Equal(t, "aarch64-unknown-none-elf", ArchAarch64.Triplet())
	require.Equal(t, "powerpc64-unknown-none-elf", ArchPpc64.Triplet())
}

func TestArchQemuSystem(t *testing.T) {
	require.Equal(t, "x86_64", ArchAmd64.QemuSystem())
	require.Equal(t, "i386", ArchX86.QemuSystem())
	require.Equal(t, "riscv64", ArchRiscv64.QemuSystem())
}
