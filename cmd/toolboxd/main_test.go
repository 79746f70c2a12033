package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func stubEntrypoints(t *testing.T) (served, signalled *string) {
	t.Helper()
	var s, g string
	origRun, origSignal := runServer, signalReload
	runServer = func(cfgPath string) error { s = cfgPath; return nil }
	signalReload = func(cfgPath string) error { g = cfgPath; return nil }
	t.Cleanup(func() { runServer, signalReload = origRun, origSignal })
	return &s, &g
}

func TestRun_DefaultServesWithConfig(t *testing.T) {
	served, signalled := stubEntrypoints(t)
	var out, errOut bytes.Buffer

	if code := run(nil, &out, &errOut); code != exitOK {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}
	if *served != "toolboxd.yaml" || *signalled != "" {
		t.Fatalf("served=%q signalled=%q", *served, *signalled)
	}

	if code := run([]string{"-c", "/etc/toolboxd.yaml"}, &out, &errOut); code != exitOK {
		t.Fatalf("code=%d", code)
	}
	if *served != "/etc/toolboxd.yaml" {
		t.Fatalf("served=%q", *served)
	}
}

func TestRun_SignalReload(t *testing.T) {
	served, signalled := stubEntrypoints(t)
	var out, errOut bytes.Buffer

	if code := run([]string{"--config", "x.yaml", "-s", "RELOAD"}, &out, &errOut); code != exitOK {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}
	if *signalled != "x.yaml" || *served != "" {
		t.Fatalf("served=%q signalled=%q", *served, *signalled)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	stubEntrypoints(t)
	for _, args := range [][]string{{"-s", "stop"}, {"--bogus"}} {
		var out, errOut bytes.Buffer
		if code := run(args, &out, &errOut); code != exitUsage {
			t.Fatalf("args=%v code=%d want %d", args, code, exitUsage)
		}
		if errOut.Len() == 0 {
			t.Fatalf("args=%v: expected a message on stderr", args)
		}
	}
}

func TestRun_FailureExitsOne(t *testing.T) {
	stubEntrypoints(t)
	signalReload = func(string) error { return errors.New("read pid file: no such file") }
	var out, errOut bytes.Buffer
	if code := run([]string{"-s", "reload"}, &out, &errOut); code != exitError {
		t.Fatalf("code=%d", code)
	}
	if !strings.Contains(errOut.String(), "read pid file") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestRun_Version(t *testing.T) {
	served, _ := stubEntrypoints(t)
	var out, errOut bytes.Buffer
	if code := run([]string{"--version"}, &out, &errOut); code != exitOK {
		t.Fatalf("code=%d", code)
	}
	if out.Len() == 0 || *served != "" {
		t.Fatalf("out=%q served=%q", out.String(), *served)
	}
}
