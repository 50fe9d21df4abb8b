// rule.go - the compiled form of one filter rule
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

// Package filter implements the rule language that decides which
// paths a transfer includes: ordered include/exclude/protect rules,
// per-directory merge files, CVS ignore handling and the glob dialect
// they are written in.
package filter

import (
	"regexp"
	"strings"
)

// Kind discriminates the rule variants.
type Kind int

const (
	Include Kind = iota + 1
	Exclude
	Protect
	// ImpliedDir admits parent directories implied by a deeper
	// rule; with --no-implied-dirs a match no longer admits the
	// directory: it is left out unless a later rule includes it.
	ImpliedDir
	// Clear ("!") discards every rule accumulated before it.
	Clear
	// DirMerge pulls rules from a per-directory file.
	DirMerge
	Existing
	NoExisting
	PruneEmptyDirs
	NoPruneEmptyDirs
)

// Flags qualify when a rule participates in matching.
type Flags struct {
	// Sender restricts the rule to sender-side decisions.
	Sender bool
	// Receiver restricts the rule to receiver-side (deletion)
	// decisions.
	Receiver bool
	// Perishable rules are ignored during deletion scans.
	Perishable bool
	// Xattr rules participate only in xattr name matching.
	Xattr bool
}

// flagsFromMods builds Flags from the modifier letters of a rule.
func flagsFromMods(mods string) Flags {
	var f Flags
	for _, c := range mods {
		switch c {
		case 's':
			f.Sender = true
		case 'r':
			f.Receiver = true
		case 'p':
			f.Perishable = true
		case 'x':
			f.Xattr = true
		}
	}
	return f
}

// Union merges the restrictions of a merge directive into a loaded
// rule.
func (f Flags) Union(g Flags) Flags {
	return Flags{
		Sender:     f.Sender || g.Sender,
		Receiver:   f.Receiver || g.Receiver,
		Perishable: f.Perishable || g.Perishable,
		Xattr:      f.Xattr || g.Xattr,
	}
}

// applies reports whether a rule with these flags participates in the
// given query.
func (f Flags) applies(forDelete, xattrQuery bool) bool {
	if f.Xattr != xattrQuery {
		return false
	}
	if forDelete {
		// deletion consults receiver rules; sender-only rules
		// don't apply
		if f.Sender && !f.Receiver {
			return false
		}
	} else {
		if f.Receiver && !f.Sender {
			return false
		}
	}
	return true
}

// Data is the compiled payload of a matching rule.
type Data struct {
	re      *regexp.Regexp
	Pattern string
	// Invert flips the match result.
	Invert bool
	Flags  Flags
	// DirOnly restricts the rule to directories.
	DirOnly bool
	// HasSlash records whether the written pattern contained a
	// separator (anchoring semantics differ).
	HasSlash bool
	// Source is the file the rule was read from, for diagnostics.
	Source string
}

// Match runs the compiled glob against a relative path.
func (d *Data) Match(rel string) bool {
	return d.re.MatchString(rel)
}

// matches applies the glob plus the dialect's segment-count
// restrictions for single-star patterns.
func (d *Data) matches(rel string, isDir bool) bool {
	matched := d.Match(rel)
	if !matched {
		return false
	}

	core := strings.TrimPrefix(d.Pattern, "/")
	core = strings.TrimPrefix(core, "./")
	segs := strings.Count(rel, "/") + 1

	if strings.Contains(core, "*") && !strings.Contains(core, "**") {
		if d.HasSlash {
			pat := strings.Trim(core, "/")
			var np int
			for _, s := range strings.Split(pat, "/") {
				if s != "" && s != "." {
					np++
				}
			}
			if segs != np {
				return false
			}
		} else if segs > 1 && core != "*" {
			return false
		}
	}
	return true
}

// MayMatchDescendant reports whether this rule's pattern could match
// something below 'rel'; it drives the walk's descend decision.
func (d *Data) MayMatchDescendant(rel string) bool {
	if d.DirOnly {
		// dir-only includes admit a directory for the sake of
		// deeper content
		return true
	}
	if strings.Contains(d.Pattern, "**") {
		return true
	}
	pat := strings.Trim(strings.TrimPrefix(d.Pattern, "/"), "/")
	if strings.Count(pat, "/") >= strings.Count(rel, "/")+1 {
		return true
	}
	return false
}

// PerDir is a per-directory merge directive: when the walk enters a
// directory containing 'File', its rules join the active set at the
// directive's position.
type PerDir struct {
	File string
	// Anchored names were written with a leading '/'.
	Anchored bool
	// RootOnly reads the file only at the transfer root.
	RootOnly bool
	// Inherit propagates the directive into subdirectories.
	Inherit bool
	// Cvs parses the file as a CVS ignore list.
	Cvs bool
	// WordSplit treats whitespace as rule separators.
	WordSplit bool
	// Sign forces every loaded line to include ('+') or exclude
	// ('-'); 0 means no forcing.
	Sign byte
	Flags Flags
}

// Equal is used to de-duplicate inherited directives.
func (p *PerDir) Equal(q *PerDir) bool {
	return p.File == q.File && p.Anchored == q.Anchored &&
		p.RootOnly == q.RootOnly && p.Inherit == q.Inherit &&
		p.Cvs == q.Cvs && p.WordSplit == q.WordSplit &&
		p.Sign == q.Sign && p.Flags == q.Flags
}

// Rule is the tagged union over all rule variants. Exactly one of
// Data/PerDir is set for the kinds that need a payload.
type Rule struct {
	Kind   Kind
	Data   *Data
	PerDir *PerDir
}

func (r *Rule) clone() Rule {
	c := *r
	if r.Data != nil {
		d := *r.Data
		c.Data = &d
	}
	if r.PerDir != nil {
		p := *r.PerDir
		c.PerDir = &p
	}
	return c
}
