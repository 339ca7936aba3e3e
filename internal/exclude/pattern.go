package exclude

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// rule is one compiled gitignore-syntax pattern.
type rule struct {
	pattern  string
	regex    *regexp.Regexp
	negation bool   // leading !
	dirOnly  bool   // trailing /
	anchored bool   // leading / or an inner /
	base     string // directory of the ignore file that declared it, "" for root
}

// ruleSet evaluates rules in order; the last matching rule wins.
type ruleSet struct {
	rules []rule
}

func compileRule(pattern, base string) (rule, bool) {
	escapedSpace := strings.HasSuffix(pattern, `\ `)
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return rule{}, false
	}

	r := rule{pattern: pattern, base: base}

	switch {
	case strings.HasPrefix(pattern, `\#`), strings.HasPrefix(pattern, `\!`):
		pattern = pattern[1:]
	case strings.HasPrefix(pattern, "!"):
		r.negation = true
		pattern = pattern[1:]
	}
	if escapedSpace && strings.HasSuffix(pattern, `\`) {
		pattern = strings.TrimSuffix(pattern, `\`) + " "
	}

	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	}
	// "doc/frotz" is relative to the ignore file, "**/frotz" is not.
	if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") && !strings.HasPrefix(pattern, "*") {
		r.anchored = true
	}
	if pattern == "" {
		return rule{}, false
	}

	r.regex = regexp.MustCompile("^" + globToRegex(pattern) + "$")
	return r, true
}

func (s *ruleSet) add(pattern, base string) {
	if r, ok := compileRule(pattern, base); ok {
		s.rules = append(s.rules, r)
	}
}

func (s *ruleSet) addFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s.add(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read ignore file %s: %w", path, err)
	}
	return nil
}

// match reports whether the slash-separated relative path is matched,
// honoring negation.
func (s *ruleSet) match(path string, isDir bool) bool {
	matched := false
	for _, r := range s.rules {
		if r.matches(path, isDir) {
			matched = !r.negation
		}
	}
	return matched
}

func (r rule) matches(path string, isDir bool) bool {
	if r.base != "" {
		switch {
		case path == r.base:
			return false
		case strings.HasPrefix(path, r.base+"/"):
			path = strings.TrimPrefix(path, r.base+"/")
		default:
			return false
		}
	}

	parts := strings.Split(path, "/")
	last := len(parts) - 1

	if r.anchored {
		if r.regex.MatchString(path) {
			return !r.dirOnly || isDir
		}
		// A matched ancestor directory covers everything below it.
		for i := 0; i < last; i++ {
			if r.regex.MatchString(strings.Join(parts[:i+1], "/")) {
				return true
			}
		}
		return false
	}

	for i, part := range parts {
		if r.regex.MatchString(part) {
			if i == last && r.dirOnly {
				return isDir
			}
			return true
		}
	}
	return !r.dirOnly && r.regex.MatchString(path)
}

// globToRegex translates gitignore glob syntax to a regex body.
func globToRegex(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 2
					continue
				}
				if i == 0 || pattern[i-1] == '/' {
					b.WriteString(".*")
					i++
					continue
				}
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end <= 0 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		case '\\':
			if i+1 < len(pattern) {
				i++
				b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}
