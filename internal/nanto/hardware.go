package nanto

import "strconv"

// Target-architecture selectors. The default matches the token used by the
// platform flags overlay; the substitution in gnargs.go rewrites it for the
// other two.
const (
	archDefault = "x64"
	archX86     = "x86"
	archARM64   = "arm64"
)

// platformTagMap maps an architecture selector to the clone helper's
// platform name.
var platformTagMap = map[string]string{
	archDefault: "win64",
	archX86:     "win32",
	archARM64:   "win-arm64",
}

// hostIs64Bit reports whether the running host uses 64-bit pointers. The
// toolchain executable group is only ever taken from the bundle matching
// this, never from a cross target.
func hostIs64Bit() bool {
	return strconv.IntSize == 64
}

// archSelector normalizes the mutually exclusive target flags to a selector.
func archSelector(x86, arm bool) string {
	switch {
	case x86:
		return archX86
	case arm:
		return archARM64
	}
	return archDefault
}

// platformTag returns the clone helper's platform name for a selector.
func platformTag(sel string) string {
	if tag, ok := platformTagMap[sel]; ok {
		return tag
	}
	return platformTagMap[archDefault]
}

// envVariant returns the environment-script layout token for the host.
// Build commands always run under the host toolchain environment, even
// when cross-targeting x86 or ARM64.
func envVariant() string {
	if hostIs64Bit() {
		return "64"
	}
	return "32"
}
