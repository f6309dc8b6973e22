package version

import (
	"fmt"
	"strings"
	"unicode"
)

//go:generate -command stringer go run golang.org/x/tools/cmd/stringer
//go:generate stringer -linecomment -type op
type op int

const (
	_ op = iota

	opMatch     // ==
	opExclusion // !=
	opLTE       // <=
	opGTE       // >=
	opLT        // <
	opGT        // >
)

type criterion struct {
	V  Version
	Op op
}

func (c *criterion) match(v Version) bool {
	switch c.Op {
	case opMatch:
		return v.Compare(c.V) == 0
	case opExclusion:
		return v.Compare(c.V) != 0
	case opLTE:
		return v.Compare(c.V) != 1
	case opGTE:
		return v.Compare(c.V) != -1
	case opLT:
		return v.Compare(c.V) == -1
	case opGT:
		return v.Compare(c.V) == 1
	default:
		panic("programmer error")
	}
}

// Spec is a Boolean combination of version range predicates, as produced by
// parsing a MatchSpec's version field.
//
// The zero Spec matches every version.
type Spec struct {
	// all holds the conjunction (AND) of criteria produced by expanding
	// comma-separated clauses and compound operators (~=, =, .*) into their
	// constituent range predicates.
	all []criterion
	// any holds alternative Specs; Spec matches if it matches all of `all`
	// AND matches at least one of `any` (or `any` is empty).
	any []Spec
}

// Match reports whether v satisfies the spec.
func (s Spec) Match(v Version) bool {
	for _, c := range s.all {
		if !c.match(v) {
			return false
		}
	}
	if len(s.any) == 0 {
		return true
	}
	for _, alt := range s.any {
		if alt.Match(v) {
			return true
		}
	}
	return false
}

// ParseSpec parses a version spec string: a comma-separated (AND) list of
// clauses, each either an operator-prefixed version (==, !=, <, <=, >, >=,
// =, ~=) or a glob (ending in .*); clauses separated by "|" form an
// alternative (OR) group.
func ParseSpec(s string) (Spec, error) {
	s = strings.Map(stripSpace, s)
	if s == "" {
		return Spec{}, nil
	}

	orGroups := strings.Split(s, "|")
	if len(orGroups) > 1 {
		alts := make([]Spec, 0, len(orGroups))
		for _, g := range orGroups {
			sp, err := ParseSpec(g)
			if err != nil {
				return Spec{}, err
			}
			alts = append(alts, sp)
		}
		return Spec{any: alts}, nil
	}

	const ops = `~=!<>`
	var out []criterion
	for clause := range strings.SplitSeq(s, ",") {
		if clause == "" {
			continue
		}
		if strings.HasSuffix(clause, ".*") {
			base := strings.TrimSuffix(clause, ".*")
			v, err := Parse(base)
			if err != nil {
				return Spec{}, err
			}
			out = append(out,
				criterion{Op: opGTE, V: v},
				criterion{Op: opLT, V: v.Bump()},
			)
			continue
		}
		i := strings.LastIndexAny(clause, ops) + 1
		o := clause[:i]
		v, err := Parse(clause[i:])
		if err != nil {
			return Spec{}, err
		}
		switch o {
		case "==", "":
			out = append(out, criterion{Op: opMatch, V: v})
		case "!=":
			out = append(out, criterion{Op: opExclusion, V: v})
		case "<=":
			out = append(out, criterion{Op: opLTE, V: v})
		case ">=":
			out = append(out, criterion{Op: opGTE, V: v})
		case "<":
			out = append(out, criterion{Op: opLT, V: v})
		case ">":
			out = append(out, criterion{Op: opGT, V: v})
		case "=":
			out = append(out,
				criterion{Op: opGTE, V: v},
				criterion{Op: opLT, V: v.Bump()},
			)
		case "~=":
			out = append(out,
				criterion{Op: opGTE, V: v},
				criterion{Op: opLT, V: bumpMinor(v)},
			)
		default:
			return Spec{}, fmt.Errorf("version: unknown range operator: %q", o)
		}
	}
	return Spec{all: out}, nil
}

// bumpMinor implements ~=v's upper bound: increment the second-to-last
// release component and truncate everything after it, matching PEP 440's
// "compatible release" semantics.
func bumpMinor(v Version) Version {
	if len(v.release) == 0 {
		return v.Bump()
	}
	if len(v.release) < 2 {
		// Only one release component: there is no second-to-last component
		// to increment, so fall back to a full bump.
		return v.Bump()
	}
	last := v.release[len(v.release)-2]
	out := v
	seg := append(segment(nil), last...)
	if seg[len(seg)-1].kind == kindNumeral {
		seg[len(seg)-1].num++
	} else {
		seg = append(seg, atom{kind: kindNumeral, num: 1})
	}
	rel := append(segments(nil), v.release[:len(v.release)-2]...)
	rel = append(rel, seg)
	out.release = rel
	out.norm = out.render()
	return out
}

func stripSpace(r rune) rune {
	if unicode.IsSpace(r) {
		return -1
	}
	return r
}
