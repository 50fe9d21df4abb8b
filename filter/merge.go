// merge.go - per-directory merge file loading and caching
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package filter

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// dirRulesAt returns the rules contributed by per-dir merge
// directives that apply when the walk stands in 'dir'. Parsed files
// are cached keyed by (path, sign, word-split) and invalidated when
// their (mtime, length) changes. Newly discovered inheritable
// directives are recorded for deeper directories.
func (m *Matcher) dirRulesAt(dir string, forDelete, xattrQuery bool) ([]posRule, error) {
	if m.root != "" && !strings.HasPrefix(dir, m.root) {
		return nil, nil
	}

	// collect directives in scope: inherited ones from ancestors,
	// then the global directives, in position order
	var perDirs []posPerDir
	var ancestors []string
	for a := filepath.Dir(dir); ; a = filepath.Dir(a) {
		ancestors = append(ancestors, a)
		if a == filepath.Dir(a) {
			break
		}
	}
	m.state.mu.Lock()
	for i := len(ancestors) - 1; i >= 0; i-- {
		perDirs = append(perDirs, m.state.extraPerDir[ancestors[i]]...)
	}
	m.state.mu.Unlock()
	perDirs = append(perDirs, m.perDir...)
	sort.SliceStable(perDirs, func(i, j int) bool { return perDirs[i].pos < perDirs[j].pos })

	var combined []posRule
	var newMerges []posPerDir

	for _, pp := range perDirs {
		pd := pp.pd
		if !pd.Flags.applies(forDelete, xattrQuery) {
			continue
		}

		var path string
		var rel string
		if pd.RootOnly && m.root != "" {
			path = filepath.Join(m.root, pd.File)
		} else {
			path = filepath.Join(dir, pd.File)
			if m.root != "" {
				if r, err := filepath.Rel(m.root, dir); err == nil && r != "." {
					rel = filepath.ToSlash(r)
				}
			}
		}

		st, err := os.Stat(path)
		if err != nil {
			// a missing merge file contributes nothing
			continue
		}

		key := cacheKey{path: path, sign: pd.Sign, wordSplit: pd.WordSplit}
		m.state.mu.Lock()
		c, ok := m.state.cached[key]
		if ok && (!c.mtime.Equal(st.ModTime()) || c.size != st.Size()) {
			ok = false
		}
		m.state.mu.Unlock()

		if !ok {
			visited := map[string]bool{path: true}
			rules, merges, err := m.loadMergeFile(path, rel, pd, visited, 0, pp.pos)
			if err != nil {
				return nil, err
			}
			c = cached{rules: rules, merges: merges, mtime: st.ModTime(), size: st.Size()}
			m.state.mu.Lock()
			m.state.cached[key] = c
			m.state.mu.Unlock()
		}

		// loaded rules inherit the directive's restrictions
		for _, pr := range c.rules {
			r := pr.rule.clone()
			if r.Data != nil {
				r.Data.Flags = r.Data.Flags.Union(pd.Flags)
			}
			if r.PerDir != nil {
				r.PerDir.Flags = r.PerDir.Flags.Union(pd.Flags)
			}
			combined = append(combined, posRule{pos: pr.pos, rule: r, noInherit: !pd.Inherit})
		}
		for _, pm := range c.merges {
			sub := *pm.pd
			sub.Flags = sub.Flags.Union(pd.Flags)
			newMerges = append(newMerges, posPerDir{pm.pos, &sub})
		}
	}

	if len(newMerges) > 0 {
		m.state.mu.Lock()
		entry := m.state.extraPerDir[dir]
		for _, nm := range newMerges {
			if !nm.pd.Inherit {
				continue
			}
			for i, old := range entry {
				if old.pd.Equal(nm.pd) {
					entry = append(entry[:i], entry[i+1:]...)
					break
				}
			}
			entry = append(entry, nm)
		}
		m.state.extraPerDir[dir] = entry
		m.state.mu.Unlock()
	}

	return combined, nil
}

// loadMergeFile parses one merge file into positioned rules, applying
// the directive's CVS / word-split / sign transformations first.
func (m *Matcher) loadMergeFile(path, rel string, pd *PerDir, visited map[string]bool, depth, index int) ([]posRule, []posPerDir, error) {
	if depth >= MaxParseDepth {
		return nil, nil, &ParseError{Kind: RecursionLimit, Rule: path}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, &ParseError{Kind: IoError, Rule: path, Err: err}
	}
	content := string(data)

	switch {
	case pd.Cvs:
		// every whitespace separated token becomes an anchored,
		// perishable exclude for this directory
		var b strings.Builder
		for _, tok := range strings.Fields(content) {
			if tok == "" || strings.HasPrefix(tok, "#") {
				continue
			}
			if strings.HasPrefix(tok, "!") {
				return nil, nil, &ParseError{Kind: InvalidRule, Rule: tok}
			}
			tok = strings.TrimPrefix(tok, "/")
			if rel == "" {
				b.WriteString("-p /" + tok + "\n")
			} else {
				b.WriteString("-p /" + rel + "/" + tok + "\n")
			}
		}
		content = b.String()

	default:
		if pd.WordSplit {
			var b strings.Builder
			if m.from0 {
				for _, tok := range strings.Split(content, "\x00") {
					if tok != "" {
						b.WriteString(tok + "\n")
					}
				}
			} else {
				for _, tok := range strings.Fields(content) {
					b.WriteString(tok + "\n")
				}
			}
			content = b.String()
		}
		if pd.Sign != 0 {
			var b strings.Builder
			for _, raw := range strings.Split(content, "\n") {
				line, ok := decodeLine(raw)
				if !ok {
					continue
				}
				if line == "!" || strings.HasPrefix(line, "+ ") ||
					strings.HasPrefix(line, "- ") {
					b.WriteString(line + "\n")
					continue
				}
				b.WriteString(string(pd.Sign) + " " + line + "\n")
			}
			content = b.String()
		}
	}

	parsed, err := ParseWithOptions(content, m.from0, visited, depth+1, path)
	if err != nil {
		return nil, nil, err
	}

	var rules []posRule
	var merges []posPerDir
	for _, r := range parsed {
		if r.Kind == DirMerge {
			merges = append(merges, posPerDir{index, r.PerDir})
		} else {
			rules = append(rules, posRule{pos: index, rule: r})
		}
	}
	return rules, merges, nil
}
