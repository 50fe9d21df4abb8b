// ids.go - uid/gid mapping and name resolution
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

package meta

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"
)

// IDMapper rewrites a numeric id from the source into the id to use
// at the destination.
type IDMapper func(uint32) uint32

// ParseIDMap compiles a --usermap/--groupmap style value
// ("FROM:TO[,FROM:TO...]"; FROM may be a name, id, id range lo-hi or
// '*') into an IDMapper. 'lookup' resolves names to ids.
func ParseIDMap(spec string, lookup func(string) (uint32, bool)) (IDMapper, error) {
	type entry struct {
		wild   bool
		lo, hi uint32
		to     uint32
	}
	var entries []entry

	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		from, toStr, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("idmap: missing ':' in %q", pair)
		}

		to, ok := resolveID(toStr, lookup)
		if !ok {
			return nil, fmt.Errorf("idmap: unknown id %q", toStr)
		}

		var e entry
		e.to = to
		switch {
		case from == "*":
			e.wild = true
		case strings.Contains(from, "-"):
			loS, hiS, _ := strings.Cut(from, "-")
			lo, err1 := strconv.ParseUint(loS, 10, 32)
			hi, err2 := strconv.ParseUint(hiS, 10, 32)
			if err1 != nil || err2 != nil || lo > hi {
				return nil, fmt.Errorf("idmap: bad range %q", from)
			}
			e.lo, e.hi = uint32(lo), uint32(hi)
		default:
			id, ok := resolveID(from, lookup)
			if !ok {
				return nil, fmt.Errorf("idmap: unknown id %q", from)
			}
			e.lo, e.hi = id, id
		}
		entries = append(entries, e)
	}

	return func(id uint32) uint32 {
		for _, e := range entries {
			if e.wild || (id >= e.lo && id <= e.hi) {
				return e.to
			}
		}
		return id
	}, nil
}

func resolveID(s string, lookup func(string) (uint32, bool)) (uint32, bool) {
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(n), true
	}
	if lookup != nil {
		return lookup(s)
	}
	return 0, false
}

// UIDFromName resolves a user name to its uid on this host.
func UIDFromName(name string) (uint32, bool) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// GIDFromName resolves a group name to its gid on this host.
func GIDFromName(name string) (uint32, bool) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// UIDToName maps a uid to its local name, for name-preserving
// transfers without --numeric-ids.
func UIDToName(uid uint32) (string, bool) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return "", false
	}
	return u.Username, true
}

// GIDToName maps a gid to its local name.
func GIDToName(gid uint32) (string, bool) {
	g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10))
	if err != nil {
		return "", false
	}
	return g.Name, true
}

// ParseChown parses a --chown USER[:GROUP] value into uid/gid
// overrides; nil means "leave alone".
func ParseChown(spec string) (*uint32, *uint32, error) {
	userPart, groupPart, hasGroup := strings.Cut(spec, ":")

	var uid, gid *uint32
	if userPart != "" {
		id, ok := resolveID(userPart, UIDFromName)
		if !ok {
			return nil, nil, fmt.Errorf("chown: unknown user %q", userPart)
		}
		uid = &id
	}
	if hasGroup && groupPart != "" {
		id, ok := resolveID(groupPart, GIDFromName)
		if !ok {
			return nil, nil, fmt.Errorf("chown: unknown group %q", groupPart)
		}
		gid = &id
	}
	return uid, gid, nil
}
