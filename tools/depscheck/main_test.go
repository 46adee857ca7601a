package main

import (
	"strings"
	"testing"
)

func TestFindViolations(t *testing.T) {
	input := `{"ImportPath":"github.com/lotuspar/libblitz/internal/session","Imports":["context","github.com/lotuspar/libblitz/internal/roster","net/http"]}
{"ImportPath":"github.com/lotuspar/libblitz/internal/roster","Imports":["sync","github.com/lotuspar/libblitz/internal/net/ws"]}
{"ImportPath":"github.com/lotuspar/libblitz/internal/activity","Imports":["net/netip","github.com/lotuspar/libblitz/internal/networking"]}`

	violations, err := findViolations(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		"github.com/lotuspar/libblitz/internal/roster -> github.com/lotuspar/libblitz/internal/net/ws",
		"github.com/lotuspar/libblitz/internal/session -> net/http",
	}
	if len(violations) != len(want) {
		t.Fatalf("expected %d violations, got %v", len(want), violations)
	}
	for i := range want {
		if violations[i] != want[i] {
			t.Fatalf("violation %d: expected %q, got %q", i, want[i], violations[i])
		}
	}
}

func TestFindViolationsRejectsMalformedInput(t *testing.T) {
	if _, err := findViolations(strings.NewReader("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}
