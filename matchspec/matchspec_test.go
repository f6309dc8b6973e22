package matchspec

import (
	"testing"

	rattler "github.com/mamba-org/rattler-go"
	"github.com/mamba-org/rattler-go/version"
)

func rec(name, ver, build string, buildNum uint64) *rattler.PackageRecord {
	return &rattler.PackageRecord{
		Name:        name,
		Version:     version.MustParse(ver),
		Build:       build,
		BuildNumber: buildNum,
		Subdir:      "linux-64",
	}
}

func TestParseBareName(t *testing.T) {
	m, err := Parse("numpy")
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "numpy" || m.Version != nil {
		t.Fatalf("got %+v", m)
	}
	if !m.Matches(rec("numpy", "1.0", "py39_0", 0)) {
		t.Fatal("bare name spec should match any version/build")
	}
}

func TestParseExactVersionBuild(t *testing.T) {
	m, err := Parse("numpy==1.26.0=py311h64a7726_0")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Matches(rec("numpy", "1.26.0", "py311h64a7726_0", 0)) {
		t.Fatal("expected match on exact version+build")
	}
	if m.Matches(rec("numpy", "1.26.1", "py311h64a7726_0", 0)) {
		t.Fatal("expected no match on different version")
	}
}

func TestParseBracketClause(t *testing.T) {
	m, err := Parse(`numpy[version=">=1.20,<2", build=py39*]`)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Matches(rec("numpy", "1.24.0", "py39h1234", 0)) {
		t.Fatal("expected match within range and build glob")
	}
	if m.Matches(rec("numpy", "1.24.0", "py310h1234", 0)) {
		t.Fatal("expected build glob to reject non-matching build")
	}
	if m.Matches(rec("numpy", "2.0.0", "py39h1234", 0)) {
		t.Fatal("expected version range to exclude 2.0.0")
	}
}

func TestParseChannelPrefixed(t *testing.T) {
	m, err := Parse("conda-forge::numpy")
	if err != nil {
		t.Fatal(err)
	}
	if m.Channel != "conda-forge" || m.Name != "numpy" {
		t.Fatalf("got %+v", m)
	}

	m2, err := Parse("conda-forge/linux-64::numpy")
	if err != nil {
		t.Fatal(err)
	}
	if m2.Channel != "conda-forge" || m2.Subdir != "linux-64" {
		t.Fatalf("got %+v", m2)
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty matchspec")
	}
}

func TestGuardEvalAndOr(t *testing.T) {
	g, err := ParseGuard("python>=3.9 and (cuda>=11 or rocm>=5)")
	if err != nil {
		t.Fatal(err)
	}
	ok := g.Eval(Env{
		"python": version.MustParse("3.10"),
		"cuda":   version.MustParse("11.2"),
	})
	if !ok {
		t.Fatal("expected guard to be satisfied")
	}

	notOK := g.Eval(Env{
		"python": version.MustParse("3.8"),
		"cuda":   version.MustParse("11.2"),
	})
	if notOK {
		t.Fatal("expected guard to fail on python<3.9")
	}
}

func TestGuardMissingEnvKeyIsUnsatisfied(t *testing.T) {
	g, err := ParseGuard("rocm>=5")
	if err != nil {
		t.Fatal(err)
	}
	if g.Eval(Env{}) {
		t.Fatal("expected unsatisfied guard when env lacks the referenced package")
	}
}

func TestBuildNumberRange(t *testing.T) {
	m, err := Parse("numpy[build_number=\">=2\"]")
	if err != nil {
		t.Fatal(err)
	}
	if m.Matches(rec("numpy", "1.0", "py39_0", 1)) {
		t.Fatal("expected build_number<2 to be excluded")
	}
	if !m.Matches(rec("numpy", "1.0", "py39_0", 3)) {
		t.Fatal("expected build_number>=2 to match")
	}
}
