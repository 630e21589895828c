package nanto

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// domainRule pairs one compiled search pattern with its replacement.
// Replacements may reference capture groups with the usual $1 syntax.
type domainRule struct {
	pattern     *regexp.Regexp
	replacement []byte
}

// loadDomainRules parses a regex list where every line holds
// pattern#replacement. The '#' separator is mandatory, so the format has no
// comment lines.
func loadDomainRules(path string) ([]domainRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read domain regex list: %w", err)
	}
	var rules []domainRule
	for _, line := range splitLines(string(data)) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "#", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("malformed domain rule %q in %s", line, path)
		}
		re, err := regexp.Compile(parts[0])
		if err != nil {
			return nil, fmt.Errorf("bad domain pattern %q: %w", parts[0], err)
		}
		rules = append(rules, domainRule{pattern: re, replacement: []byte(parts[1])})
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("domain regex list %s is empty", path)
	}
	return rules, nil
}

// substituteFile applies every rule to one file and rewrites it only when the
// content actually changed. Returns the number of rules that matched.
func substituteFile(path string, rules []domainRule) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	matched := 0
	out := data
	for _, rule := range rules {
		if rule.pattern.Match(out) {
			matched++
			out = rule.pattern.ReplaceAll(out, rule.replacement)
		}
	}
	if matched == 0 {
		return 0, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if err := atomicWriteFile(path, out, info.Mode().Perm()); err != nil {
		return 0, err
	}
	return matched, nil
}

// applyDomainSubstitution rewrites every file named in listPath with the
// rules from regexPath. A listed file that cannot be read, including one that
// does not exist, fails the whole run.
func applyDomainSubstitution(regexPath, listPath, tree string) error {
	rules, err := loadDomainRules(regexPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(listPath)
	if err != nil {
		return fmt.Errorf("could not read domain substitution list: %w", err)
	}

	var changed, visited int
	for _, line := range splitLines(string(data)) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		visited++
		n, err := substituteFile(filepath.Join(tree, filepath.FromSlash(line)), rules)
		if err != nil {
			return fmt.Errorf("domain substitution failed on %s: %w", line, err)
		}
		if n > 0 {
			changed++
		}
	}
	cPrintf(colArrow, "-> ")
	cPrintf(colSuccess, "Substituted domains in %d of %d files\n", changed, visited)
	return nil
}
