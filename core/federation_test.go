package core

import "testing"

func TestFederationRegistryJoinLeave(t *testing.T) {
	f := NewFederationRegistry()
	if f.IsMember("coop-x", "did:key:a") {
		t.Fatal("expected no membership before Join")
	}
	f.Join("coop-x", "did:key:a")
	if !f.IsMember("coop-x", "did:key:a") {
		t.Fatal("expected membership after Join")
	}
	f.Leave("coop-x", "did:key:a")
	if f.IsMember("coop-x", "did:key:a") {
		t.Fatal("expected membership revoked after Leave")
	}
}

func TestSatisfiesFederationsEmptyAllowedMeansUnrestricted(t *testing.T) {
	f := NewFederationRegistry()
	if !f.SatisfiesFederations("did:key:a", nil, nil) {
		t.Fatal("empty allowedFederations must impose no restriction")
	}
}

func TestSatisfiesFederationsRequiresMembership(t *testing.T) {
	f := NewFederationRegistry()
	f.Join("coop-x", "did:key:a")
	if !f.SatisfiesFederations("did:key:a", []string{"coop-x"}, []string{"coop-x"}) {
		t.Fatal("expected executor in coop-x to satisfy allowedFederations=[coop-x]")
	}
	if f.SatisfiesFederations("did:key:b", []string{"coop-x"}, []string{"coop-x"}) {
		t.Fatal("expected non-member to fail even if it claims coop-x federation")
	}
	if f.SatisfiesFederations("did:key:a", []string{"coop-y"}, []string{"coop-x"}) {
		t.Fatal("expected mismatch between claimed and allowed federations to fail")
	}
}
