// matcher.go - ordered rule evaluation with per-dir merge caching
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
	"sync"
	"time"
)

// MatchResult is the outcome of one inclusion query: whether the path
// is admitted and whether a directory should still be descended into
// (a non-included directory may hold included descendants).
type MatchResult struct {
	Include bool
	Descend bool
}

type posRule struct {
	pos  int
	rule Rule

	// noInherit rules apply only in the directory whose merge file
	// supplied them, not to deeper paths
	noInherit bool
}

type posPerDir struct {
	pos int
	pd  *PerDir
}

type cached struct {
	rules  []posRule
	merges []posPerDir
	mtime  time.Time
	size   int64
}

type cacheKey struct {
	path      string
	sign      byte
	wordSplit bool
}

// shared mutable caches; queries mutate them even though the Matcher
// is logically read-only for a session.
type matcherState struct {
	mu sync.Mutex

	// merge directives discovered while traversing, keyed by the
	// directory they were found in
	extraPerDir map[string][]posPerDir

	// parsed merge files keyed by (path, sign, word-split) and
	// invalidated on (mtime, length) change
	cached map[cacheKey]cached
}

// Matcher evaluates an ordered rule list plus the per-directory merge
// state accumulated during a traversal. A Matcher is cheap to clone
// for a session; the caches are shared.
type Matcher struct {
	root   string
	rules  []posRule
	perDir []posPerDir

	existing       bool
	pruneEmptyDirs bool
	from0          bool
	noImpliedDirs  bool

	state *matcherState
}

// NewMatcher compiles 'rules' into a Matcher. Directive rules
// (existing, prune-empty-dirs, dir-merge) are folded into matcher
// state; the rest keep their insertion position, which is part of
// their identity.
func NewMatcher(rules []Rule) *Matcher {
	m := &Matcher{
		state: &matcherState{
			extraPerDir: make(map[string][]posPerDir),
			cached:      make(map[cacheKey]cached),
		},
	}
	for idx, r := range rules {
		switch r.Kind {
		case DirMerge:
			m.perDir = append(m.perDir, posPerDir{idx, r.PerDir})
		case Existing:
			m.existing = true
		case NoExisting:
			m.existing = false
		case PruneEmptyDirs:
			m.pruneEmptyDirs = true
		case NoPruneEmptyDirs:
			m.pruneEmptyDirs = false
		default:
			m.rules = append(m.rules, posRule{pos: idx, rule: r})
		}
	}
	return m
}

// Clone returns a copy sharing the rule list and caches; per-session
// root and mode bits may differ between clones.
func (m *Matcher) Clone() *Matcher {
	c := *m
	return &c
}

// WithRoot anchors the matcher at 'root'; merge files and existence
// checks resolve against it.
func (m *Matcher) WithRoot(root string) *Matcher {
	m.root = root
	return m
}

func (m *Matcher) WithExisting() *Matcher {
	m.existing = true
	return m
}

func (m *Matcher) WithPruneEmptyDirs() *Matcher {
	m.pruneEmptyDirs = true
	return m
}

func (m *Matcher) WithFrom0() *Matcher {
	m.from0 = true
	return m
}

func (m *Matcher) WithNoImpliedDirs() *Matcher {
	m.noImpliedDirs = true
	return m
}

// Root returns the anchor directory.
func (m *Matcher) Root() string {
	return m.root
}

// Rules returns the global matching rules in position order.
func (m *Matcher) Rules() []Rule {
	out := make([]Rule, 0, len(m.rules)+len(m.perDir))
	type posAny struct {
		pos int
		r   Rule
	}
	var all []posAny
	for _, pr := range m.rules {
		all = append(all, posAny{pr.pos, pr.rule})
	}
	for _, pp := range m.perDir {
		all = append(all, posAny{pp.pos, Rule{Kind: DirMerge, PerDir: pp.pd}})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].pos < all[j].pos })
	for _, a := range all {
		out = append(out, a.r)
	}
	return out
}

// Merge appends more rules after the existing ones.
func (m *Matcher) Merge(more []Rule) {
	maxIdx := 0
	for _, pr := range m.rules {
		if pr.pos > maxIdx {
			maxIdx = pr.pos
		}
	}
	for _, pp := range m.perDir {
		if pp.pos > maxIdx {
			maxIdx = pp.pos
		}
	}
	for _, r := range more {
		maxIdx++
		switch r.Kind {
		case DirMerge:
			m.perDir = append(m.perDir, posPerDir{maxIdx, r.PerDir})
		case Existing:
			m.existing = true
		case NoExisting:
			m.existing = false
		case PruneEmptyDirs:
			m.pruneEmptyDirs = true
		case NoPruneEmptyDirs:
			m.pruneEmptyDirs = false
		default:
			m.rules = append(m.rules, posRule{pos: maxIdx, rule: r})
		}
	}
}

// IsIncluded evaluates the rules for a sender-side decision.
func (m *Matcher) IsIncluded(rel string) (bool, error) {
	r, err := m.check(rel, false, false)
	return r.Include, err
}

// IsIncludedWithDir is IsIncluded plus the descend decision.
func (m *Matcher) IsIncludedWithDir(rel string) (MatchResult, error) {
	return m.check(rel, false, false)
}

// IsIncludedForDelete evaluates the rules for a deletion-scan
// decision: perishable and sender-only rules are ignored.
func (m *Matcher) IsIncludedForDelete(rel string) (bool, error) {
	r, err := m.check(rel, true, false)
	return r.Include, err
}

// IsIncludedForDeleteWithDir is IsIncludedForDelete plus descend.
func (m *Matcher) IsIncludedForDeleteWithDir(rel string) (MatchResult, error) {
	return m.check(rel, true, false)
}

// IsXattrIncluded evaluates only rules flagged for xattr names.
func (m *Matcher) IsXattrIncluded(name string) (bool, error) {
	r, err := m.check(name, false, true)
	return r.Include, err
}

// IsXattrIncludedForDelete is the deletion-side xattr predicate.
func (m *Matcher) IsXattrIncludedForDelete(name string) (bool, error) {
	r, err := m.check(name, true, true)
	return r.Include, err
}

// PreloadDir forces the per-directory rule files from the root down
// to 'dir' into the cache.
func (m *Matcher) PreloadDir(dir string) error {
	if m.root != "" && strings.HasPrefix(dir, m.root) {
		cur := m.root
		if _, err := m.dirRulesAt(cur, false, false); err != nil {
			return err
		}
		rel, err := filepath.Rel(m.root, dir)
		if err == nil && rel != "." {
			for _, comp := range strings.Split(rel, string(filepath.Separator)) {
				cur = filepath.Join(cur, comp)
				if _, err := m.dirRulesAt(cur, false, false); err != nil {
					return err
				}
			}
		}
		return nil
	}
	_, err := m.dirRulesAt(dir, false, false)
	return err
}

type activeRule struct {
	pos   int
	depth int
	seq   int
	rule  Rule
}

func (m *Matcher) check(rel string, forDelete, xattrQuery bool) (MatchResult, error) {
	rel = strings.TrimSuffix(rel, "/")
	if rel == "" || rel == "." {
		return MatchResult{Include: true}, nil
	}

	if m.existing && m.root != "" {
		if _, err := os.Lstat(filepath.Join(m.root, rel)); err != nil {
			return MatchResult{}, nil
		}
	}

	isDir := false
	if m.root != "" {
		if st, err := os.Stat(filepath.Join(m.root, rel)); err == nil {
			isDir = st.IsDir()
		}
	}

	seq := 0
	var active []activeRule
	for _, pr := range m.rules {
		active = append(active, activeRule{pr.pos, 0, seq, pr.rule})
		seq++
	}

	if m.root != "" && !xattrQuery {
		// visit each ancestor dir from the root down to the
		// path's parent and pull in its merge rules
		dirs := []string{m.root}
		if parent := filepath.Dir(rel); parent != "." && parent != "/" {
			cur := m.root
			for _, comp := range strings.Split(parent, "/") {
				cur = filepath.Join(cur, comp)
				dirs = append(dirs, cur)
			}
		}

		fname := filepath.Base(rel)
		for depthIdx, d := range dirs {
			depth := depthIdx + 1
			loaded, err := m.dirRulesAt(d, forDelete, xattrQuery)
			if err != nil {
				return MatchResult{}, err
			}
			for _, pr := range loaded {
				if pr.noInherit && depthIdx != len(dirs)-1 {
					continue
				}
				pos := pr.pos
				// a later directive naming the same merge
				// file outranks earlier per-dir rules
				if m.isMergeFileName(d, fname) {
					pos += 2
				}
				active = append(active, activeRule{pos, depth, seq, pr.rule})
				seq++
			}
		}
	}

	// position ascending, depth descending, then insertion order:
	// deeper rules outrank shallower ones at the same position
	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.pos != b.pos {
			return a.pos < b.pos
		}
		if a.depth != b.depth {
			return a.depth > b.depth
		}
		return a.seq < b.seq
	})

	var ordered []Rule
	for _, ar := range active {
		if ar.rule.Kind == Clear {
			ordered = ordered[:0]
		} else {
			ordered = append(ordered, ar.rule)
		}
	}

	var include *bool
	descend := false
	for _, r := range ordered {
		d := r.Data
		if d == nil {
			continue
		}
		if !d.Flags.applies(forDelete, xattrQuery) {
			continue
		}
		if forDelete && d.Flags.Perishable {
			continue
		}
		if d.DirOnly && !isDir {
			continue
		}

		matched := d.matches(rel, isDir)
		ruleMatch := matched != d.Invert
		mayDesc := isDir && d.MayMatchDescendant(rel)

		decided := false
		switch r.Kind {
		case Protect, Include:
			if ruleMatch {
				v := true
				include = &v
				if mayDesc {
					descend = true
				}
				decided = true
			}

		case ImpliedDir:
			if ruleMatch {
				if m.noImpliedDirs {
					// an implied dir doesn't admit on its
					// own: it is left out unless a later
					// rule includes it, but is still walked
					if include == nil {
						v := false
						include = &v
					}
					if mayDesc {
						descend = true
					}
				} else {
					v := true
					include = &v
					if mayDesc {
						descend = true
					}
					decided = true
				}
			}

		case Exclude:
			if ruleMatch {
				v := false
				include = &v
				if d.DirOnly {
					descend = false
				} else if !descend {
					descend = mayDesc
				}
				decided = true
			}
		}

		if !decided && !ruleMatch && mayDesc {
			descend = true
		}
		if decided {
			// first decisive rule wins
			break
		}
	}

	matched := include != nil
	includeVal := true
	if matched {
		includeVal = *include
	} else {
		descend = true
	}

	if includeVal && m.pruneEmptyDirs && m.root != "" && !xattrQuery {
		full := filepath.Join(m.root, rel)
		if st, err := os.Stat(full); err == nil && st.IsDir() {
			hasChild := false
			ents, err := os.ReadDir(full)
			if err != nil {
				return MatchResult{}, &ParseError{Kind: IoError, Rule: full, Err: err}
			}
			for _, e := range ents {
				sub, err := m.check(rel+"/"+e.Name(), forDelete, xattrQuery)
				if err != nil {
					return MatchResult{}, err
				}
				if sub.Include {
					hasChild = true
					break
				}
			}
			if !hasChild {
				includeVal = false
			}
		}
	}

	return MatchResult{Include: includeVal, Descend: descend}, nil
}

// isMergeFileName reports whether 'name' is the file of any per-dir
// directive in scope at 'dir'.
func (m *Matcher) isMergeFileName(dir, name string) bool {
	for _, pp := range m.perDir {
		if pp.pd.File == name {
			return true
		}
	}
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	for _, pp := range m.state.extraPerDir[dir] {
		if pp.pd.File == name {
			return true
		}
	}
	return false
}
