// Package matchspec implements conda's MatchSpec: a predicate bundle over
// PackageRecord fields, parsed from either structured fields or the conda
// textual shorthand.
package matchspec

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	rattler "github.com/mamba-org/rattler-go"
	"github.com/mamba-org/rattler-go/version"
)

// Range is an inclusive-minimum, exclusive-maximum bound over build numbers.
// A zero Range (Min == Max == 0, HasMax == false) matches every build
// number.
type Range struct {
	Min    uint64
	Max    uint64
	HasMax bool
}

func (r Range) match(n uint64) bool {
	if n < r.Min {
		return false
	}
	if r.HasMax && n >= r.Max {
		return false
	}
	return true
}

// MatchSpec is a predicate bundle over package records.
//
// The zero MatchSpec matches every record; fields left unset (empty string,
// zero Range, nil VersionSpec) are not checked.
type MatchSpec struct {
	Name        string
	Version     *version.Spec
	Build       string // exact match, or a glob if it contains '*'
	BuildNumber Range
	Channel     string
	Subdir      string
	MD5         string
	SHA256      string
	Extras      []string
	Condition   *Guard
}

// Matches reports whether rec satisfies the name, version, build,
// build-number, subdir, MD5 and SHA256 predicates present on m. Channel and
// Extras are not compared against rec.
//
// Matches takes no environment and never evaluates Condition; an
// unsatisfied guard does not make Matches return false — guard evaluation is
// the solver's responsibility and Matches treats a guarded spec as matching
// iff the underlying predicate matches, independent of the guard's truth
// value. Callers that need "skip this dependency" semantics should call
// Condition.Eval(env) themselves before consulting Matches.
func (m *MatchSpec) Matches(rec *rattler.PackageRecord) bool {
	if m.Name != "" && !strings.EqualFold(m.Name, rec.Name) {
		return false
	}
	if m.Version != nil && !m.Version.Match(rec.Version) {
		return false
	}
	if m.Build != "" && !matchBuild(m.Build, rec.Build) {
		return false
	}
	if !m.BuildNumber.match(rec.BuildNumber) {
		return false
	}
	if m.Subdir != "" && m.Subdir != rec.Subdir {
		return false
	}
	if m.MD5 != "" && m.MD5 != rec.MD5 {
		return false
	}
	if m.SHA256 != "" && m.SHA256 != rec.SHA256 {
		return false
	}
	return true
}

func matchBuild(pattern, build string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == build
	}
	ok, err := path.Match(pattern, build)
	return err == nil && ok
}

// ParseError reports why a MatchSpec string failed to parse.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("matchspec: %s: %q", e.Reason, e.Input)
}

// Parse parses the conda textual shorthand:
//
//	[channel[/subdir]::]name[version[ build]][key=value,...]
//
// Accepted forms include "name", "name==1.2.3", "name==1.2.3=build_0",
// "name[version=\">=1.2,<2\",build=py*]", "channel::name",
// "channel/subdir::name".
func Parse(s string) (*MatchSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &ParseError{Input: s, Reason: "empty matchspec"}
	}
	m := &MatchSpec{}
	rest := s

	if i := strings.Index(rest, "::"); i != -1 {
		chan_ := rest[:i]
		rest = rest[i+2:]
		if j := strings.LastIndexByte(chan_, '/'); j != -1 {
			m.Channel, m.Subdir = chan_[:j], chan_[j+1:]
		} else {
			m.Channel = chan_
		}
	}

	var brackets string
	if i := strings.IndexByte(rest, '['); i != -1 {
		if !strings.HasSuffix(rest, "]") {
			return nil, &ParseError{Input: s, Reason: "unterminated bracket clause"}
		}
		brackets = rest[i+1 : len(rest)-1]
		rest = rest[:i]
	}

	name, verBuild, hasVerBuild := cutFirst(rest, "==", "=", " ")
	m.Name = name
	if hasVerBuild {
		buildSep := "="
		if strings.HasPrefix(rest[len(name):], " ") {
			// "name version build": whitespace separates version from build.
			buildSep = " "
			verBuild = strings.TrimSpace(verBuild)
		}
		verStr, buildStr, hasBuild := strings.Cut(verBuild, buildSep)
		if sp, err := version.ParseSpec(exactSpec(verStr)); err == nil {
			m.Version = &sp
		} else {
			return nil, &ParseError{Input: s, Reason: "invalid version: " + err.Error()}
		}
		if hasBuild {
			m.Build = buildStr
		}
	}
	if m.Name == "" {
		return nil, &ParseError{Input: s, Reason: "missing package name"}
	}

	if brackets != "" {
		if err := applyBracketClause(m, brackets); err != nil {
			return nil, &ParseError{Input: s, Reason: err.Error()}
		}
	}
	return m, nil
}

// exactSpec turns a bare version literal (as used in the "name==version"
// shorthand, where "==" already pins exact match) into a VersionSpec
// string; ranges typed directly (e.g. inside a bracket clause) are passed
// through unchanged.
func exactSpec(v string) string {
	if v == "" {
		return ""
	}
	if strings.ContainsAny(v, "<>=!,|") {
		return v
	}
	return "==" + v
}

func cutFirst(s string, seps ...string) (before, after string, found bool) {
	idx := -1
	var sepLen int
	for _, sep := range seps {
		if i := strings.Index(s, sep); i != -1 && (idx == -1 || i < idx) {
			idx, sepLen = i, len(sep)
		}
	}
	if idx == -1 {
		return s, "", false
	}
	return s[:idx], s[idx+sepLen:], true
}

// applyBracketClause parses the comma-separated key=value clauses inside a
// "name[...]" shorthand. Commas inside a quoted value (e.g. a
// comma-separated version range) do not split the clause.
func applyBracketClause(m *MatchSpec, clause string) error {
	for _, kv := range splitUnquoted(clause, ',') {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("malformed clause %q", kv)
		}
		val = strings.Trim(val, `"'`)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "version":
			sp, err := version.ParseSpec(val)
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			m.Version = &sp
		case "build":
			m.Build = val
		case "build_number":
			r, err := parseRange(val)
			if err != nil {
				return fmt.Errorf("invalid build_number: %w", err)
			}
			m.BuildNumber = r
		case "channel":
			m.Channel = val
		case "subdir":
			m.Subdir = val
		case "md5":
			m.MD5 = val
		case "sha256":
			m.SHA256 = val
		case "extras":
			m.Extras = strings.Split(val, "|")
		default:
			// Unknown keys are ignored, matching lenient parsing of
			// forward-compatible clause names.
		}
	}
	return nil
}

// splitUnquoted splits s on sep, treating runs inside single or double
// quotes as opaque.
func splitUnquoted(s string, sep byte) []string {
	var out []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
			cur.WriteByte(c)
		case c == sep:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	out = append(out, cur.String())
	return out
}

// parseRange parses "N", ">=N", or "N-M" forms for build_number clauses.
func parseRange(s string) (Range, error) {
	switch {
	case strings.HasPrefix(s, ">="):
		n, err := strconv.ParseUint(strings.TrimPrefix(s, ">="), 10, 64)
		return Range{Min: n}, err
	case strings.Contains(s, "-"):
		lo, hi, _ := strings.Cut(s, "-")
		min, err := strconv.ParseUint(lo, 10, 64)
		if err != nil {
			return Range{}, err
		}
		max, err := strconv.ParseUint(hi, 10, 64)
		if err != nil {
			return Range{}, err
		}
		return Range{Min: min, Max: max + 1, HasMax: true}, nil
	default:
		n, err := strconv.ParseUint(s, 10, 64)
		return Range{Min: n, Max: n + 1, HasMax: true}, err
	}
}
