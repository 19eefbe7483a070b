package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/example/deskwatch/internal/config"
	"github.com/example/deskwatch/internal/protocol"
)

func TestParseGlobalFlagsStripsDebugAnywhere(t *testing.T) {
	filtered, debug, err := parseGlobalFlags([]string{"request", "--message", "hi", "--debug"})
	if err != nil {
		t.Fatalf("parseGlobalFlags returned error: %v", err)
	}
	if !debug {
		t.Fatalf("expected debug flag to be enabled")
	}
	want := []string{"request", "--message", "hi"}
	if strings.Join(filtered, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected filtered args: %#v", filtered)
	}
}

func TestParseGlobalFlagsAcceptsValuesAndSlashes(t *testing.T) {
	filtered, debug, err := parseGlobalFlags([]string{"/Debug=false", "-console", "import", "--file", "/etc/deskwatch.yaml"})
	if err != nil {
		t.Fatalf("parseGlobalFlags returned error: %v", err)
	}
	if debug {
		t.Fatalf("debug flag should not be set")
	}
	if len(filtered) != 3 || filtered[0] != "import" || filtered[2] != "/etc/deskwatch.yaml" {
		t.Fatalf("unexpected filtered args: %#v", filtered)
	}
}

func TestParseGlobalFlagsRejectsBadDebugValue(t *testing.T) {
	if _, _, err := parseGlobalFlags([]string{"--debug=maybe"}); err == nil {
		t.Fatalf("expected an error for an invalid debug value")
	}
}

func TestNormalizeCommand(t *testing.T) {
	for _, in := range []string{"status", "--status", "-Status", "/STATUS"} {
		if got := normalizeCommand(in); got != "status" {
			t.Fatalf("normalizeCommand(%q) = %q", in, got)
		}
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, &protocol.Status{
		State:          "occupied",
		Summary:        "In use by bob",
		ActiveSessions: 1,
		Occupant:       "bob",
		BeaconError:    "sftp: permission denied",
		Sessions:       []protocol.Session{{User: "bob", ID: 5, State: "Active"}},
	})
	out := buf.String()
	for _, want := range []string{"In use by bob", "occupied", "Occupant:        bob\n", "sftp: permission denied", "5   bob   Active"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Probe error") {
		t.Fatalf("empty probe error must not be printed:\n%s", out)
	}
}

func TestHandleShowMasksPassword(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Host = "desk01"
	cfg.Server.Password = "hunter2-secret"
	cfg.Local.Alias = "alice"

	var buf bytes.Buffer
	if err := handleShow(&buf, cfg); err != nil {
		t.Fatalf("handleShow: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "hunter2-secret") {
		t.Fatalf("password leaked:\n%s", out)
	}
	if !strings.Contains(out, "desk01") || !strings.Contains(out, "(auto)") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
