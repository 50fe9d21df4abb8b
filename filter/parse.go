// parse.go - parse rule streams, list files and merge files
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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Parse compiles a rule stream (one rule per line) into rules.
func Parse(input string) ([]Rule, error) {
	return ParseWithOptions(input, false, make(map[string]bool), 0, "")
}

// ParseWithOptions is Parse with explicit merge-recursion state:
// 'visited' guards against include cycles, 'depth' against runaway
// nesting and 'source' names the originating file for diagnostics.
func ParseWithOptions(input string, from0 bool, visited map[string]bool, depth int, source string) ([]Rule, error) {
	if depth >= MaxParseDepth {
		return nil, &ParseError{Kind: RecursionLimit, Rule: source}
	}

	var rules []Rule
	for _, raw := range strings.Split(input, "\n") {
		line, ok := decodeLine(raw)
		if !ok {
			continue
		}

		switch line {
		case "!", "c":
			rules = append(rules, Rule{Kind: Clear})
			continue
		case "existing":
			rules = append(rules, Rule{Kind: Existing})
			continue
		case "no-existing":
			rules = append(rules, Rule{Kind: NoExisting})
			continue
		case "prune-empty-dirs":
			rules = append(rules, Rule{Kind: PruneEmptyDirs})
			continue
		case "no-prune-empty-dirs":
			rules = append(rules, Rule{Kind: NoPruneEmptyDirs})
			continue
		}

		// -F / -FF: the conventional per-dir filter file
		if rest, ok := strings.CutPrefix(line, "-F"); ok && strings.Count(rest, "F") == len(rest) {
			rules = append(rules, Rule{Kind: DirMerge, PerDir: &PerDir{
				File:     ".rsync-filter",
				Anchored: true,
				Inherit:  true,
			}})
			if len(rest) > 0 {
				sub, err := makeMatchRules(Exclude, "", "**/.rsync-filter", source)
				if err != nil {
					return nil, err
				}
				rules = append(rules, sub...)
			}
			continue
		}

		var handled bool
		var err error
		rules, handled, err = parseMergeForms(rules, line, raw, from0, visited, depth, source)
		if err != nil {
			return nil, err
		}
		if handled {
			continue
		}

		kind, mods, rest, ok, err := splitRuleWord(line, raw, from0, visited, depth, &rules)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		// bare "-C" pulls in the CVS default excludes
		if kind == Exclude && strings.ContainsRune(mods, 'C') && rest == "" {
			cvs, err := DefaultCVSRules()
			if err != nil {
				return nil, err
			}
			rules = append(rules, cvs...)
			continue
		}
		if rest == "" {
			return nil, &ParseError{Kind: InvalidRule, Rule: raw}
		}

		sub, err := makeMatchRules(kind, mods, rest, source)
		if err != nil {
			return nil, err
		}
		rules = append(rules, sub...)
	}
	return rules, nil
}

// parseMergeForms handles the '.', 'd', ':' and ':include-merge'
// merge syntaxes; handled=false means the line is not a merge form.
func parseMergeForms(rules []Rule, line, raw string, from0 bool, visited map[string]bool, depth int, source string) ([]Rule, bool, error) {
	if rest, ok := strings.CutPrefix(line, ":include-merge"); ok {
		file := strings.TrimSpace(rest)
		if file == "" {
			return rules, true, &ParseError{Kind: InvalidRule, Rule: raw}
		}
		sub, err := parseMergeFileRef(file, raw, from0, visited, depth)
		if err != nil {
			return rules, true, err
		}
		return append(rules, sub...), true, nil
	}

	if rest, ok := strings.CutPrefix(line, "."); ok {
		// ". FILE" reads FILE here, at this position
		file := strings.TrimSpace(strings.TrimPrefix(rest, " "))
		if file == "" {
			return rules, true, &ParseError{Kind: InvalidRule, Rule: raw}
		}
		sub, err := parseMergeFileRef(file, raw, from0, visited, depth)
		if err != nil {
			return rules, true, err
		}
		return append(rules, sub...), true, nil
	}

	if rest, ok := strings.CutPrefix(line, "d"); ok && (strings.HasPrefix(rest, " ") || strings.HasPrefix(rest, ",")) {
		// "d FILE" is shorthand for ": FILE"
		sub, err := ParseWithOptions(":"+rest+"\n", from0, visited, depth+1, source)
		if err != nil {
			return rules, true, err
		}
		return append(rules, sub...), true, nil
	}

	if rest, ok := strings.CutPrefix(line, ":"); ok {
		mods, file := splitMods(rest, "-+Cenw/!srpx")
		if file == "" {
			if strings.ContainsRune(mods, 'C') {
				return append(rules, Rule{Kind: DirMerge, PerDir: &PerDir{
					File:    ".cvsignore",
					Inherit: true,
					Cvs:     true,
				}}), true, nil
			}
			return rules, true, &ParseError{Kind: InvalidRule, Rule: raw}
		}

		anchored := strings.HasPrefix(file, "/") || strings.ContainsRune(mods, '/')
		fname := strings.TrimPrefix(file, "/")
		pd := &PerDir{
			File:     fname,
			Anchored: anchored,
			RootOnly: anchored,
			Inherit:  true,
			Flags:    flagsFromMods(mods),
		}
		excludeSelf := false
		for _, ch := range mods {
			switch ch {
			case '+':
				pd.Sign = '+'
			case '-':
				pd.Sign = '-'
			case 'n':
				pd.Inherit = false
			case 'w':
				pd.WordSplit = true
			case 'C':
				pd.Cvs = true
				pd.WordSplit = true
			case 'e':
				excludeSelf = true
			}
		}
		rules = append(rules, Rule{Kind: DirMerge, PerDir: pd})
		if excludeSelf {
			sub, err := makeMatchRules(Exclude, "", "**/"+fname, source)
			if err != nil {
				return rules, true, err
			}
			rules = append(rules, sub...)
		}
		return rules, true, nil
	}

	return rules, false, nil
}

func parseMergeFileRef(file, raw string, from0 bool, visited map[string]bool, depth int) ([]Rule, error) {
	if visited[file] {
		return nil, &ParseError{Kind: RecursiveInclude, Rule: file}
	}
	visited[file] = true

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, &ParseError{Kind: InvalidRule, Rule: raw, Err: err}
	}
	return ParseWithOptions(string(data), from0, visited, depth+1, file)
}

// splitRuleWord recognizes the prefix or word form of a matching rule
// and returns (kind, mods, pattern). List-file words (include-from,
// exclude-from, files-from, merge, dir-merge) are consumed in place
// and ok=false is returned.
func splitRuleWord(line, raw string, from0 bool, visited map[string]bool, depth int, rules *[]Rule) (Kind, string, string, bool, error) {
	// word forms first: "protect x" must not be read as the 'p'
	// prefix with pattern "rotect x"
	if kind, mods, rest, handled, done, err := ruleWordForm(line, raw, from0, visited, depth, rules); handled {
		return kind, mods, rest, done, err
	}

	type pref struct {
		p     string
		kind  Kind
		force byte // modifier implied by the short form
	}
	prefixes := []pref{
		{"+", Include, 0},
		{"-", Exclude, 0},
		{"P", Protect, 'r'},
		{"p", Protect, 'r'},
		{"S", Include, 's'},
		{"H", Exclude, 's'},
		{"h", Exclude, 's'},
		{"R", Include, 'r'},
	}
	for _, pf := range prefixes {
		rest, ok := strings.CutPrefix(line, pf.p)
		if !ok {
			continue
		}
		mods, pat := splitMods(rest, "/!Csrpx")
		if pf.force != 0 && !strings.ContainsRune(mods, rune(pf.force)) {
			mods += string(pf.force)
		}
		return pf.kind, mods, pat, true, nil
	}

	return 0, "", "", false, &ParseError{Kind: InvalidRule, Rule: raw}
}

// ruleWordForm recognizes the long word syntax. handled=false falls
// back to the prefix forms; done=false with handled=true means the
// word consumed the line itself (list files, merges).
func ruleWordForm(line, raw string, from0 bool, visited map[string]bool, depth int, rules *[]Rule) (Kind, string, string, bool, bool, error) {
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch word {
	case "include":
		return Include, "", rest, true, true, nil
	case "exclude":
		return Exclude, "", rest, true, true, nil
	case "show":
		return Include, "s", rest, true, true, nil
	case "hide":
		return Exclude, "s", rest, true, true, nil
	case "protect":
		return Protect, "r", rest, true, true, nil
	case "risk":
		return Include, "r", rest, true, true, nil

	case "include-from", "exclude-from":
		sign := byte('+')
		if word == "exclude-from" {
			sign = '-'
		}
		if visited[rest] {
			return 0, "", "", true, false, &ParseError{Kind: RecursiveInclude, Rule: rest}
		}
		visited[rest] = true
		sub, err := ParseRuleListFile(rest, from0, sign, visited, depth+1)
		if err != nil {
			return 0, "", "", true, false, err
		}
		*rules = append(*rules, sub...)
		return 0, "", "", true, false, nil

	case "files-from":
		if visited[rest] {
			return 0, "", "", true, false, &ParseError{Kind: RecursiveInclude, Rule: rest}
		}
		visited[rest] = true
		sub, err := parseFilesFrom(rest, from0)
		if err != nil {
			return 0, "", "", true, false, err
		}
		*rules = append(*rules, sub...)
		return 0, "", "", true, false, nil

	case "merge":
		sub, err := parseMergeFileRef(rest, raw, from0, visited, depth)
		if err != nil {
			return 0, "", "", true, false, err
		}
		*rules = append(*rules, sub...)
		return 0, "", "", true, false, nil

	case "dir-merge":
		anchored := strings.HasPrefix(rest, "/")
		*rules = append(*rules, Rule{Kind: DirMerge, PerDir: &PerDir{
			File:     strings.TrimPrefix(rest, "/"),
			Anchored: anchored,
			RootOnly: anchored,
			Inherit:  true,
		}})
		return 0, "", "", true, false, nil
	}
	return 0, "", "", false, false, nil
}

// makeMatchRules compiles one written pattern into its rule set:
// anchoring, dir-only / dir-and-descendants suffixes, the implicit
// "**/" for unanchored names, ancestor includes for deep include
// patterns, brace expansion.
func makeMatchRules(kind Kind, mods, pattern, source string) ([]Rule, error) {
	flags := flagsFromMods(mods)
	invert := strings.ContainsRune(mods, '!')

	hasAnchor := false
	for strings.HasPrefix(pattern, "./") {
		hasAnchor = true
		pattern = pattern[2:]
	}
	if strings.ContainsRune(mods, '/') && !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	if hasAnchor && !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}

	anchored := strings.HasPrefix(pattern, "/")
	dirAll := strings.HasSuffix(pattern, "/***")
	dirOnly := !dirAll && strings.HasSuffix(pattern, "/")

	base := strings.TrimPrefix(pattern, "/")
	if dirAll {
		base = strings.TrimSuffix(base, "/***")
	} else if dirOnly {
		base = strings.TrimSuffix(base, "/")
	}

	bases := []string{base}
	if !anchored && !strings.HasPrefix(base, "**/") && base != "**" {
		bases = append(bases, "**/"+base)
	}

	var rules []Rule

	// a deep include implies its ancestor directories
	if kind == Include && strings.Contains(base, "/") &&
		!strings.ContainsAny(base, "*?[{") {
		parts := strings.Split(base, "/")
		for i := 1; i < len(parts); i++ {
			ancestor := strings.Join(parts[:i], "/")
			abases := []string{ancestor}
			if !anchored && ancestor != "**" {
				abases = append(abases, "**/"+ancestor)
			}
			for _, pat := range abases {
				exps, err := expandBraces(pat)
				if err != nil {
					return nil, err
				}
				for _, exp := range exps {
					re, err := compileGlob(exp)
					if err != nil {
						return nil, err
					}
					rules = append(rules, Rule{Kind: Include, Data: &Data{
						re:       re,
						Pattern:  exp,
						Invert:   invert,
						Flags:    flags,
						DirOnly:  true,
						HasSlash: strings.Contains(exp, "/"),
						Source:   source,
					}})
				}
			}
		}
	}

	type patSpec struct {
		pat     string
		dirOnly bool
	}
	var pats []patSpec
	for _, b := range bases {
		if anchored {
			b = "/" + b
		}
		if dirAll || dirOnly {
			pats = append(pats, patSpec{b, false})
			pats = append(pats, patSpec{b + "/**", false})
		} else {
			pats = append(pats, patSpec{b, false})
		}
	}

	for _, ps := range pats {
		exps, err := expandBraces(ps.pat)
		if err != nil {
			return nil, err
		}
		for _, exp := range exps {
			// the compiled form never carries the anchor slash;
			// matching is against root-relative paths
			cexp := strings.TrimPrefix(exp, "/")
			re, err := compileGlob(cexp)
			if err != nil {
				return nil, err
			}
			rules = append(rules, Rule{Kind: kind, Data: &Data{
				re:       re,
				Pattern:  exp,
				Invert:   invert,
				Flags:    flags,
				DirOnly:  ps.dirOnly,
				HasSlash: strings.Contains(exp, "/"),
				Source:   source,
			}})
		}
	}
	return rules, nil
}

// splitMods splits the leading modifier letters (from 'allowed') off
// a rule body; a leading ',' is tolerated. Modifiers must follow the
// prefix directly: a body that starts with whitespace has none.
func splitMods(s, allowed string) (string, string) {
	i := 0
	if i < len(s) && s[i] == ',' {
		i++
	}
	for i < len(s) && strings.IndexByte(allowed, s[i]) >= 0 {
		i++
	}
	mods := s[:i]
	rest := strings.TrimLeft(s[i:], " \t")
	return mods, rest
}

// decodeLine strips comments and surrounding whitespace; backslash
// protects a space, a '#' and itself. ok=false drops the line.
func decodeLine(raw string) (string, bool) {
	raw = strings.TrimSuffix(raw, "\r")

	var out strings.Builder
	escaped := false
	started := false
	lastNonSpace := 0

	for _, c := range raw {
		if escaped {
			if c == ' ' || c == '\t' || c == '#' || c == '\\' {
				out.WriteRune(c)
			} else {
				out.WriteByte('\\')
				out.WriteRune(c)
			}
			lastNonSpace = out.Len()
			escaped = false
			started = true
			continue
		}
		if !started {
			if c == ' ' || c == '\t' {
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '#' {
				return "", false
			}
			started = true
			out.WriteRune(c)
			lastNonSpace = out.Len()
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		out.WriteRune(c)
		if c != ' ' && c != '\t' {
			lastNonSpace = out.Len()
		}
	}
	if escaped {
		out.WriteByte('\\')
		lastNonSpace = out.Len()
	}

	s := out.String()[:lastNonSpace]
	if s == "" {
		return "", false
	}
	return s, true
}

// ParseRuleListFile reads an include-from/exclude-from style list:
// each line is a pattern with 'sign' forced, unless the line itself
// starts with an explicit rule prefix.
func ParseRuleListFile(path string, from0 bool, sign byte, visited map[string]bool, depth int) ([]Rule, error) {
	data, err := readPathOrStdin(path)
	if err != nil {
		return nil, &ParseError{Kind: IoError, Rule: path, Err: err}
	}
	return parseRuleList(string(data), from0, sign, visited, depth, path)
}

func parseRuleList(input string, from0 bool, sign byte, visited map[string]bool, depth int, source string) ([]Rule, error) {
	if depth >= MaxParseDepth {
		return nil, &ParseError{Kind: RecursionLimit, Rule: source}
	}

	var rules []Rule
	for _, tok := range splitList(input, from0) {
		line := tok
		if !from0 {
			var ok bool
			line, ok = decodeLine(tok)
			if !ok {
				continue
			}
		}
		if line == "" {
			continue
		}
		if line == "!" {
			rules = append(rules, Rule{Kind: Clear})
			continue
		}

		// an explicit sign on the line overrides the list's
		if strings.HasPrefix(line, "+ ") || strings.HasPrefix(line, "- ") {
			sub, err := ParseWithOptions(line, from0, visited, depth, source)
			if err != nil {
				return nil, err
			}
			rules = append(rules, sub...)
			continue
		}

		kind := Include
		if sign == '-' {
			kind = Exclude
		}
		sub, err := makeMatchRules(kind, "", line, source)
		if err != nil {
			return nil, err
		}
		rules = append(rules, sub...)
	}
	return rules, nil
}

// parseFilesFrom turns a files-from list into rules: each named path
// is included, its ancestors become implied directories.
func parseFilesFrom(path string, from0 bool) ([]Rule, error) {
	data, err := readPathOrStdin(path)
	if err != nil {
		return nil, &ParseError{Kind: IoError, Rule: path, Err: err}
	}

	var rules []Rule
	seen := make(map[string]bool)
	for _, tok := range splitList(string(data), from0) {
		name := strings.TrimSpace(tok)
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		name = strings.TrimPrefix(name, "/")
		subtree := strings.HasSuffix(name, "/")
		name = strings.TrimSuffix(name, "/")
		if name == "" {
			continue
		}

		parts := strings.Split(name, "/")
		for i := 1; i < len(parts); i++ {
			ancestor := strings.Join(parts[:i], "/")
			if seen[ancestor] {
				continue
			}
			seen[ancestor] = true
			re, err := compileGlob(ancestor)
			if err != nil {
				return nil, err
			}
			rules = append(rules, Rule{Kind: ImpliedDir, Data: &Data{
				re:       re,
				Pattern:  "/" + ancestor,
				DirOnly:  true,
				HasSlash: true,
				Source:   path,
			}})
		}

		pats := []string{name}
		if subtree {
			pats = append(pats, name+"/**")
		}
		for _, p := range pats {
			re, err := compileGlob(p)
			if err != nil {
				return nil, err
			}
			rules = append(rules, Rule{Kind: Include, Data: &Data{
				re:       re,
				Pattern:  "/" + p,
				HasSlash: true,
				Source:   path,
			}})
		}
	}
	return rules, nil
}

// splitList tokenizes a list file: NUL separated when from0, one
// entry per line otherwise.
func splitList(input string, from0 bool) []string {
	if from0 {
		var out []string
		for _, t := range strings.Split(input, "\x00") {
			if t != "" {
				out = append(out, t)
			}
		}
		return out
	}
	return strings.Split(input, "\n")
}

func readPathOrStdin(path string) ([]byte, error) {
	if path == "-" {
		return nil, fmt.Errorf("stdin rule lists need the caller to read them first")
	}
	return os.ReadFile(path)
}

// cvsDefaults are the patterns CVS ignores by default.
var cvsDefaults = []string{
	"RCS", "SCCS", "CVS", "CVS.adm", "RCSLOG", "cvslog.*", "tags",
	"TAGS", ".make.state", ".nse_depinfo", "*~", "#*", ".#*", ",*",
	"_$*", "*$", "*.old", "*.bak", "*.BAK", "*.orig", "*.rej",
	".del-*", "*.a", "*.olb", "*.o", "*.obj", "*.so", "*.exe", "*.Z",
	"*.elc", "*.ln", "core", ".svn/", ".git/", ".hg/", ".bzr/",
}

// DefaultCVSRules builds the default CVS exclude set: the built-in
// patterns, then $HOME/.cvsignore, then $CVSIGNORE, all perishable,
// plus a non-inherited per-dir .cvsignore merge.
func DefaultCVSRules() ([]Rule, error) {
	var rules []Rule

	addToks := func(toks []string) error {
		for _, tok := range toks {
			if tok == "" {
				continue
			}
			sub, err := makeMatchRules(Exclude, "p", tok, ".cvsignore")
			if err != nil {
				return err
			}
			rules = append(rules, sub...)
		}
		return nil
	}

	if err := addToks(cvsDefaults); err != nil {
		return nil, err
	}

	if home := os.Getenv("HOME"); home != "" {
		if data, err := os.ReadFile(filepath.Join(home, ".cvsignore")); err == nil {
			if err := addToks(strings.Fields(string(data))); err != nil {
				return nil, err
			}
		}
	}

	if env := os.Getenv("CVSIGNORE"); env != "" {
		if err := addToks(strings.Fields(env)); err != nil {
			return nil, err
		}
	}

	rules = append(rules, Rule{Kind: DirMerge, PerDir: &PerDir{
		File:     ".cvsignore",
		Anchored: true,
		Inherit:  false,
		Cvs:      true,
		Flags:    Flags{Perishable: true},
	}})
	return rules, nil
}
