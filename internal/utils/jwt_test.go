package utils

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	now := time.Now()
	tok, err := IssueAccessToken("secret", "u-42", "CUSTOMER", time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ParseAccessToken("secret", tok.Token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u-42" || claims.Role != "CUSTOMER" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseRejects(t *testing.T) {
	now := time.Now()
	good, _ := IssueAccessToken("secret", "u-1", "ADMIN", time.Hour, now)
	expired, _ := IssueAccessToken("secret", "u-1", "ADMIN", time.Minute, now.Add(-time.Hour))
	anon, _ := IssueAccessToken("secret", "", "ADMIN", time.Hour, now)

	for name, tc := range map[string]struct{ secret, raw string }{
		"wrong secret": {"other", good.Token},
		"expired":      {"secret", expired.Token},
		"no subject":   {"secret", anon.Token},
		"garbage":      {"secret", "not.a.token"},
	} {
		if _, err := ParseAccessToken(tc.secret, tc.raw); err == nil {
			t.Errorf("%s: parse succeeded", name)
		}
	}
}
