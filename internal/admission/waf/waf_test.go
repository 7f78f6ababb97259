package waf

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func reqWith(method, target string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestSQLInjectionFamilyMatchesQueryValue(t *testing.T) {
	w, err := New(Config{Families: map[Family]Action{FamilySQLInjection: ActionBlock}})
	if err != nil {
		t.Fatal(err)
	}
	r := reqWith("GET", "/search?q=1%20OR%201=1", nil)
	res, err := w.Inspect(r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != ActionBlock {
		t.Fatalf("expected block action, got %q", res.Action)
	}
	if len(res.MatchedRules) == 0 {
		t.Fatal("expected at least one matched rule")
	}
}

func TestXSSFamilyMatchesHeaderValue(t *testing.T) {
	w, err := New(Config{Families: map[Family]Action{FamilyXSS: ActionBlock}})
	if err != nil {
		t.Fatal(err)
	}
	r := reqWith("GET", "/", map[string]string{"X-Custom": "<script>alert(1)</script>"})
	res, err := w.Inspect(r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != ActionBlock {
		t.Fatal("expected XSS in header to be blocked")
	}
}

func TestPathTraversalMatchesPath(t *testing.T) {
	w, err := New(Config{Families: map[Family]Action{FamilyPathTraversal: ActionBlock}})
	if err != nil {
		t.Fatal(err)
	}
	r := reqWith("GET", "/files/../../etc/passwd", nil)
	res, err := w.Inspect(r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != ActionBlock {
		t.Fatal("expected path traversal to be blocked")
	}
}

func TestCommandInjectionMatchesBody(t *testing.T) {
	w, err := New(Config{Families: map[Family]Action{FamilyCommandInjection: ActionBlock}})
	if err != nil {
		t.Fatal(err)
	}
	r := reqWith("POST", "/run", nil)
	res, err := w.Inspect(r, []byte("name=x; cat /etc/passwd"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != ActionBlock {
		t.Fatal("expected command injection in body to be blocked")
	}
}

func TestCleanRequestHasNoMatches(t *testing.T) {
	w, err := New(Config{Families: map[Family]Action{
		FamilySQLInjection: ActionBlock,
		FamilyXSS:          ActionBlock,
	}})
	if err != nil {
		t.Fatal(err)
	}
	r := reqWith("GET", "/products?category=shoes&sort=price", nil)
	res, err := w.Inspect(r, []byte(`{"note":"hello world"}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.MatchedRules) != 0 {
		t.Fatalf("expected no matches on a clean request, got %v", res.MatchedRules)
	}
}

func TestUserLiteralRule(t *testing.T) {
	w, err := New(Config{UserRules: []UserRule{
		{ID: "block-admin-probe", Literal: "/wp-admin", Action: ActionBlock},
	}})
	if err != nil {
		t.Fatal(err)
	}
	r := reqWith("GET", "/wp-admin/setup.php", nil)
	res, err := w.Inspect(r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != ActionBlock {
		t.Fatal("expected literal rule to match the probed path")
	}
}

func TestUserRegexRule(t *testing.T) {
	w, err := New(Config{UserRules: []UserRule{
		{ID: "suspicious-ua", Regex: `(?i)sqlmap|nikto`, Action: ActionChallenge},
	}})
	if err != nil {
		t.Fatal(err)
	}
	r := reqWith("GET", "/", map[string]string{"User-Agent": "sqlmap/1.6"})
	res, err := w.Inspect(r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != ActionChallenge {
		t.Fatalf("expected challenge action, got %q", res.Action)
	}
}

func TestUserExprRule(t *testing.T) {
	w, err := New(Config{UserRules: []UserRule{
		{ID: "long-path", Expr: `field == "path" && len(value) > 100`, Action: ActionLog},
	}})
	if err != nil {
		t.Fatal(err)
	}
	r := reqWith("GET", "/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", nil)
	res, err := w.Inspect(r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != ActionLog {
		t.Fatalf("expected the expr rule to fire with log action, got %q", res.Action)
	}
}

func TestBlockDominatesOverLogAndChallenge(t *testing.T) {
	w, err := New(Config{UserRules: []UserRule{
		{ID: "r-log", Literal: "foo", Action: ActionLog},
		{ID: "r-challenge", Literal: "foo", Action: ActionChallenge},
		{ID: "r-block", Literal: "foo", Action: ActionBlock},
	}})
	if err != nil {
		t.Fatal(err)
	}
	r := reqWith("GET", "/foo", nil)
	res, err := w.Inspect(r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != ActionBlock {
		t.Fatalf("expected block to dominate challenge and log, got %q", res.Action)
	}
	if len(res.MatchedRules) != 3 {
		t.Fatalf("expected all three rules to be reported as matched, got %d", len(res.MatchedRules))
	}
}

func TestAmbiguousUserRuleRejected(t *testing.T) {
	_, err := New(Config{UserRules: []UserRule{
		{ID: "bad", Literal: "x", Regex: "y", Action: ActionLog},
	}})
	if err == nil {
		t.Fatal("expected an error when a user rule sets more than one match kind")
	}
}
