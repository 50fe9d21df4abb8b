// string.go - render rules back into the rule language
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
	"strings"
)

// String renders the rule in the syntax Parse accepts; reparsing the
// rendered list yields an equivalent matcher.
func (r Rule) String() string {
	switch r.Kind {
	case Clear:
		return "!"
	case Existing:
		return "existing"
	case NoExisting:
		return "no-existing"
	case PruneEmptyDirs:
		return "prune-empty-dirs"
	case NoPruneEmptyDirs:
		return "no-prune-empty-dirs"
	case DirMerge:
		return r.PerDir.String()
	case Include, ImpliedDir:
		return "+" + r.Data.modString() + " " + r.Data.Pattern
	case Exclude:
		return "-" + r.Data.modString() + " " + r.Data.Pattern
	case Protect:
		return "P" + r.Data.modString() + " " + r.Data.Pattern
	}
	return ""
}

func (d *Data) modString() string {
	var b strings.Builder
	if d.Invert {
		b.WriteByte('!')
	}
	if d.Flags.Sender && !d.Flags.Receiver {
		b.WriteByte('s')
	}
	if d.Flags.Receiver && !d.Flags.Sender {
		b.WriteByte('r')
	}
	if d.Flags.Perishable {
		b.WriteByte('p')
	}
	if d.Flags.Xattr {
		b.WriteByte('x')
	}
	return b.String()
}

// String renders a per-dir directive.
func (p *PerDir) String() string {
	var b strings.Builder
	b.WriteByte(':')
	if p.Sign != 0 {
		b.WriteByte(p.Sign)
	}
	if !p.Inherit {
		b.WriteByte('n')
	}
	if p.Cvs {
		b.WriteByte('C')
	} else if p.WordSplit {
		b.WriteByte('w')
	}
	b.WriteByte(' ')
	if p.Anchored {
		b.WriteByte('/')
	}
	b.WriteString(p.File)
	return b.String()
}

// Render writes a whole rule list, one rule per line.
func Render(rules []Rule) string {
	var b strings.Builder
	for _, r := range rules {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	return b.String()
}
