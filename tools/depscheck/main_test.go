package main

import (
	"strings"
	"testing"
)

func TestCheckReportsForbiddenEdges(t *testing.T) {
	stream := `{"ImportPath":"github.com/Learath2/libtw2/internal/replication","Imports":["github.com/Learath2/libtw2/internal/snap","github.com/Learath2/libtw2/internal/net/proto","github.com/gorilla/websocket"]}
{"ImportPath":"github.com/Learath2/libtw2/internal/snap","Imports":["github.com/cespare/xxhash/v2","github.com/Learath2/libtw2/internal/network"]}`

	violations, err := check(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	want := []string{
		"github.com/Learath2/libtw2/internal/replication -> github.com/Learath2/libtw2/internal/net/proto",
		"github.com/Learath2/libtw2/internal/replication -> github.com/gorilla/websocket",
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

func TestCheckRejectsGarbage(t *testing.T) {
	if _, err := check(strings.NewReader("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}
