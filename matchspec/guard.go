package matchspec

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/mamba-org/rattler-go/version"
)

// Env supplies the values a Guard is evaluated against: the in-solution
// version of a virtual package or python, keyed by name.
type Env map[string]version.Version

// Guard is a parsed condition expression: a Boolean combination, via
// "and"/"or" and parenthesization, of "pkg OP version" atoms.
//
// A Guard with an unparseable source or that fails to evaluate against a
// given Env is never reported as an error to callers of Parse; Eval simply
// returns false.
type Guard struct {
	root guardNode
}

type guardNode interface {
	eval(env Env) bool
}

type guardAtom struct {
	pkg  string
	spec version.Spec
}

func (a guardAtom) eval(env Env) bool {
	v, ok := env[strings.ToLower(a.pkg)]
	if !ok {
		return false
	}
	return a.spec.Match(v)
}

type guardAnd struct{ l, r guardNode }

func (a guardAnd) eval(env Env) bool { return a.l.eval(env) && a.r.eval(env) }

type guardOr struct{ l, r guardNode }

func (o guardOr) eval(env Env) bool { return o.l.eval(env) || o.r.eval(env) }

// Eval reports whether the guard is satisfied by env. A malformed Guard
// (root == nil) always evaluates to false.
func (g *Guard) Eval(env Env) bool {
	if g == nil || g.root == nil {
		return false
	}
	return g.root.eval(env)
}

// ParseGuard parses a condition-guard expression, e.g.
// "python>=3.9 and (cuda>=11 or rocm>=5)".
func ParseGuard(s string) (*Guard, error) {
	p := &guardParser{toks: tokenizeGuard(s)}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("matchspec: unexpected token %q in guard", p.toks[p.pos])
	}
	return &Guard{root: node}, nil
}

type guardParser struct {
	toks []string
	pos  int
}

func (p *guardParser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *guardParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *guardParser) parseOr() (guardNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek(), "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = guardOr{l: left, r: right}
	}
	return left, nil
}

func (p *guardParser) parseAnd() (guardNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek(), "and") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = guardAnd{l: left, r: right}
	}
	return left, nil
}

func (p *guardParser) parseUnary() (guardNode, error) {
	if p.peek() == "(" {
		p.next()
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("matchspec: unbalanced parenthesis in guard")
		}
		return node, nil
	}
	return p.parseAtom()
}

func (p *guardParser) parseAtom() (guardNode, error) {
	tok := p.next()
	if tok == "" {
		return nil, fmt.Errorf("matchspec: unexpected end of guard expression")
	}
	pkg, specStr, ok := splitPkgVersion(tok)
	if !ok {
		return nil, fmt.Errorf("matchspec: malformed guard atom %q", tok)
	}
	sp, err := version.ParseSpec(specStr)
	if err != nil {
		return nil, fmt.Errorf("matchspec: guard atom %q: %w", tok, err)
	}
	return guardAtom{pkg: pkg, spec: sp}, nil
}

// splitPkgVersion splits a single guard atom token like "python>=3.9" into
// its package name and version-spec clause.
func splitPkgVersion(tok string) (pkg, spec string, ok bool) {
	i := strings.IndexFunc(tok, func(r rune) bool {
		return r == '=' || r == '<' || r == '>' || r == '!' || r == '~'
	})
	if i <= 0 {
		return "", "", false
	}
	return tok[:i], tok[i:], true
}

// tokenizeGuard splits a guard expression into atoms, parentheses, and the
// "and"/"or" keywords, without splitting inside version-spec clauses
// (which never contain spaces in this grammar).
func tokenizeGuard(s string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '(' || r == ')':
			flush()
			toks = append(toks, string(r))
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}
