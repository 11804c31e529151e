package aws

import (
	"net/url"
	"reflect"
	"testing"
	"time"
)

const devPrincipal = "arn:aws:iam::123456789012:user/developer"

func encodedPolicy(t *testing.T, raw string) string {
	t.Helper()
	return url.QueryEscape(raw)
}

func TestTrustedPrincipalsSingleAndList(t *testing.T) {
	single := encodedPolicy(t, `{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"AWS": "arn:aws:iam::123456789012:user/developer"},
			"Action": "sts:AssumeRole"
		}]
	}`)
	got, err := trustedPrincipals(single)
	if err != nil {
		t.Fatalf("parsing single: %v", err)
	}
	if !reflect.DeepEqual(got, []string{devPrincipal}) {
		t.Errorf("unexpected principals: %v", got)
	}

	list := encodedPolicy(t, `{
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"AWS": ["arn:aws:iam::123456789012:user/developer", "arn:aws:iam::123456789012:root"]},
			"Action": ["sts:AssumeRole", "sts:TagSession"]
		}]
	}`)
	got, err = trustedPrincipals(list)
	if err != nil {
		t.Fatalf("parsing list: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 principals, got %v", got)
	}
}

func TestTrustedPrincipalsIgnoresDenyAndNonAssume(t *testing.T) {
	policy := encodedPolicy(t, `{
		"Statement": [
			{"Effect": "Deny", "Principal": {"AWS": "arn:aws:iam::123456789012:user/blocked"}, "Action": "sts:AssumeRole"},
			{"Effect": "Allow", "Principal": {"Service": "lambda.amazonaws.com"}, "Action": "sts:AssumeRole"},
			{"Effect": "Allow", "Principal": {"AWS": "arn:aws:iam::123456789012:user/developer"}, "Action": "sts:GetSessionToken"}
		]
	}`)
	got, err := trustedPrincipals(policy)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no AWS principals, got %v", got)
	}
}

func TestTrustedPrincipalsMalformedDocument(t *testing.T) {
	if _, err := trustedPrincipals("%7Bnot-json"); err == nil {
		t.Error("expected error for malformed document")
	}
}

func TestPrincipalTrusted(t *testing.T) {
	cases := []struct {
		trusted   []string
		principal string
		want      bool
	}{
		{[]string{devPrincipal}, devPrincipal, true},
		{[]string{"*"}, devPrincipal, true},
		{[]string{"arn:aws:iam::123456789012:root"}, devPrincipal, true},
		{[]string{"arn:aws:iam::999999999999:root"}, devPrincipal, false},
		{[]string{"arn:aws:iam::123456789012:user/other"}, devPrincipal, false},
		{nil, devPrincipal, false},
	}
	for _, tc := range cases {
		if got := principalTrusted(tc.trusted, tc.principal); got != tc.want {
			t.Errorf("principalTrusted(%v, %s) = %v, want %v", tc.trusted, tc.principal, got, tc.want)
		}
	}
}

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"s3:GetObject,s3:PutObject", []string{"s3:GetObject", "s3:PutObject"}},
		{" s3:GetObject , s3:PutObject ", []string{"s3:GetObject", "s3:PutObject"}},
		{"s3:*", []string{"s3:*"}},
	}
	for _, tc := range cases {
		if got := splitCSV(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitCSV(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if got := splitCSV(""); len(got) != 0 {
		t.Errorf("splitCSV(\"\") = %v, want empty", got)
	}
	if got := splitCSV(" , "); len(got) != 0 {
		t.Errorf("splitCSV(\" , \") = %v, want empty", got)
	}
}

func TestResponseCacheTTL(t *testing.T) {
	cache := NewResponseCache(50 * time.Millisecond)

	cache.Put("k", "v")
	if got, ok := cache.Get("k"); !ok || got.(string) != "v" {
		t.Fatalf("expected hit, got %v %v", got, ok)
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := cache.Get("k"); ok {
		t.Error("expired entry served")
	}
}

func TestResponseCacheClearPrefix(t *testing.T) {
	cache := NewResponseCache(time.Minute)
	cache.Put("iam:roles:a", 1)
	cache.Put("iam:roles:b", 2)
	cache.Put("sts:identity", 3)

	if n := cache.Clear("iam:"); n != 2 {
		t.Errorf("expected 2 cleared, got %d", n)
	}
	if _, ok := cache.Get("sts:identity"); !ok {
		t.Error("unrelated entry cleared")
	}

	if n := cache.Clear(""); n != 1 {
		t.Errorf("expected 1 cleared on full clear, got %d", n)
	}
}

func TestRateLimiterSpacesCalls(t *testing.T) {
	rl := NewRateLimiter(20) // 50ms interval

	start := time.Now()
	rl.Wait("iam")
	rl.Wait("iam")
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("second call not spaced: %s", elapsed)
	}

	// Different services are limited independently.
	start = time.Now()
	rl.Wait("sts")
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("unrelated service throttled: %s", elapsed)
	}
}
