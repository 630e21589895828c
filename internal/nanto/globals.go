package nanto

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gookit/color"
)

// GLOBAL STATE
// We use a value of 1 for critical and 0 for non-critical/default.
var isCriticalAtomic atomic.Int32

// Global variables
var (
	rootDir       string // project root holding manifests, lists, patches and build/
	buildDir      string // rootDir/build
	sourceTree    string // buildDir/src
	downloadCache string // buildDir/download_cache
	logsDir       string // buildDir/logs

	sourceManifest string // primary source archive manifest
	extrasManifest string // platform extra-files manifest

	pruneList        string
	pruneListFull    string // tarball-mode variant (upstream full list)
	domainSubList    string
	domainSubFull    string // tarball-mode variant
	domainRegexList  string
	patchesUpstream  string // general patch series directory
	patchesPlatform  string // platform patch series directory
	flagsBaseFile    string
	flagsOverlayFile string

	locatorBin   string   // installed-toolchain locator program
	locatorArgs  []string // its query arguments
	scriptLayout string   // relative env-script layout under the install root
	harvestShell string   // shell used to source the env script

	pythonBin      string
	patchBinRel    string // patch binary relative to the source tree
	cloneCmd       []string
	packageCmd     []string
	compileTargets []string
	ciDeadline     time.Duration

	tmpRoot string // backing directory for TMP/TEMP

	bucketName     string
	bucketAccount  string
	bucketKeyID    string
	bucketSecret   string
	artifactsDir   string
	artifactsIndex string

	Debug      bool
	Verbose    bool
	ConfigFile = "/etc/nanto.conf"
	version    = "dev" //default version; overridden at build time
	arch       = runtime.GOARCH
	buildDate  = "unknown" // overridden at build time

	// Global executor (declared, assigned in Main)
	Exec *Executor
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
