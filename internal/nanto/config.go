package nanto

import (
	"bufio"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config struct
type Config struct {
	Values map[string]string
}

// Load /etc/nanto.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge NANTO_* env overrides
	mergeEnvOverrides(cfg)

	// Ensure TMPDIR has a default
	if tmp := cfg.Values["TMPDIR"]; tmp == "" {
		cfg.Values["TMPDIR"] = "/tmp"
	}

	return cfg, nil
}

// Merge NANTO_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "NANTO_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}

	// Also import TMPDIR from the environment if present, without overwriting an explicit config file value
	if tmp := os.Getenv("TMPDIR"); tmp != "" {
		if _, exists := cfg.Values["TMPDIR"]; !exists {
			cfg.Values["TMPDIR"] = tmp
		}
	}
}

// value returns cfg.Values[key] or def when unset
func (cfg *Config) value(key, def string) string {
	if v := cfg.Values[key]; v != "" {
		return v
	}
	return def
}

func initConfig(cfg *Config) {
	rootDir = cfg.value("NANTO_ROOT", ".")
	if abs, err := filepath.Abs(rootDir); err == nil {
		rootDir = abs
	} else {
		log.Printf("Warning: cannot resolve NANTO_ROOT %q: %v", rootDir, err)
	}

	Debug = cfg.Values["NANTO_DEBUG"] == "1"
	Verbose = cfg.Values["NANTO_VERBOSE"] == "1"

	tmpRoot = cfg.Values["TMPDIR"]
	if tmpRoot == "" {
		tmpRoot = "/tmp"
	}

	// Persisted tree layout
	buildDir = filepath.Join(rootDir, "build")
	sourceTree = filepath.Join(buildDir, "src")
	downloadCache = filepath.Join(buildDir, "download_cache")
	logsDir = filepath.Join(buildDir, "logs")
	artifactsDir = cfg.value("NANTO_ARTIFACTS", filepath.Join(buildDir, "artifacts"))

	// Input documents, all relative to the project root unless absolute
	sourceManifest = rootPath(cfg.value("NANTO_SOURCE_MANIFEST", "manifests/sources.ini"))
	extrasManifest = rootPath(cfg.value("NANTO_EXTRAS_MANIFEST", "manifests/extras.ini"))
	pruneList = rootPath(cfg.value("NANTO_PRUNE_LIST", "lists/pruning.list"))
	pruneListFull = rootPath(cfg.value("NANTO_PRUNE_LIST_FULL", "lists/pruning.full.list"))
	domainSubList = rootPath(cfg.value("NANTO_DOMAIN_LIST", "lists/domain_substitution.list"))
	domainSubFull = rootPath(cfg.value("NANTO_DOMAIN_LIST_FULL", "lists/domain_substitution.full.list"))
	domainRegexList = rootPath(cfg.value("NANTO_DOMAIN_REGEX", "lists/domain_regex.list"))
	patchesUpstream = rootPath(cfg.value("NANTO_PATCHES", "patches/upstream"))
	patchesPlatform = rootPath(cfg.value("NANTO_PATCHES_PLATFORM", "patches/platform"))
	flagsBaseFile = rootPath(cfg.value("NANTO_FLAGS_BASE", "flags.gn"))
	flagsOverlayFile = rootPath(cfg.value("NANTO_FLAGS_OVERLAY", "flags.platform.gn"))

	// Toolchain environment resolution
	locatorBin = cfg.value("NANTO_LOCATOR", "vswhere")
	locatorArgs = strings.Fields(cfg.value("NANTO_LOCATOR_ARGS", "-prerelease -latest -property installationPath"))
	scriptLayout = cfg.value("NANTO_SCRIPT_LAYOUT", "VC/Auxiliary/Build/vcvars%s.bat")
	harvestShell = cfg.value("NANTO_SHELL", "sh")

	// External collaborators
	pythonBin = cfg.value("NANTO_PYTHON", "python3")
	patchBinRel = cfg.value("NANTO_PATCH_BIN", "third_party/git/usr/bin/patch")
	cloneCmd = strings.Fields(cfg.value("NANTO_CLONE_CMD", "python3 utils/clone.py"))
	packageCmd = strings.Fields(cfg.value("NANTO_PACKAGE_CMD", "python3 package.py"))
	compileTargets = strings.Fields(cfg.value("NANTO_TARGETS", "chrome chromedriver mini_installer"))

	ciDeadline = 3*time.Hour + 30*time.Minute
	if raw := cfg.Values["NANTO_CI_DEADLINE"]; raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			ciDeadline = d
		} else {
			log.Printf("Warning: ignoring invalid NANTO_CI_DEADLINE %q", raw)
		}
	}

	// Artifact publishing (all optional; upload stays disabled when unset)
	bucketName = cfg.Values["NANTO_BUCKET"]
	bucketAccount = cfg.Values["NANTO_BUCKET_ACCOUNT"]
	bucketKeyID = cfg.Values["NANTO_BUCKET_KEY_ID"]
	bucketSecret = cfg.Values["NANTO_BUCKET_SECRET"]
	artifactsIndex = cfg.value("NANTO_INDEX", "index.json")

	debugf("[DEBUG] project root: %s\n", rootDir)
}

// rootPath resolves p against the project root unless already absolute
func rootPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(rootDir, p)
}
