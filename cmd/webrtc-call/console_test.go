package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/call"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/peer"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    command
		wantErr bool
	}{
		{line: "", want: command{}},
		{line: "   ", want: command{}},
		{line: "call bob", want: command{name: "call", arg: "bob"}},
		{line: "CALL bob", want: command{name: "call", arg: "bob"}},
		{line: "end", want: command{name: "end"}},
		{line: "mute", want: command{name: "mute"}},
		{line: "video", want: command{name: "video"}},
		{line: "status", want: command{name: "status"}},
		{line: "exit", want: command{name: "quit"}},
		{line: "call", wantErr: true},
		{line: "call bob carol", wantErr: true},
		{line: "end now", wantErr: true},
		{line: "dance", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.line)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseCommand(%q) err=nil, want error", tt.line)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseCommand(%q) err=%v", tt.line, err)
		}
		if got != tt.want {
			t.Fatalf("parseCommand(%q)=%+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestParseCommand_UnknownIsTyped(t *testing.T) {
	_, err := parseCommand("dance")
	if !errors.Is(err, errUnknownCommand) {
		t.Fatalf("err=%v, want errUnknownCommand", err)
	}
}

type fakeController struct {
	calls   []string
	ended   int
	audioOn bool
}

func (f *fakeController) StartCall(_ context.Context, target string) error {
	if target == "nobody" {
		return call.ErrInvalidTarget
	}
	f.calls = append(f.calls, target)
	return nil
}

func (f *fakeController) EndCall() { f.ended++ }

func (f *fakeController) ToggleLocalAudio() (bool, string, error) {
	f.audioOn = !f.audioOn
	return f.audioOn, media.AudioToggleLabel(f.audioOn), nil
}

func (f *fakeController) ToggleLocalVideo() (bool, string, error) {
	return false, "", call.ErrNoLocalMedia
}

func (f *fakeController) Snapshot() call.Snapshot {
	return call.Snapshot{Phase: peer.PhaseConnected, Role: peer.RoleInitiator, Target: "bob"}
}

func TestRunConsole(t *testing.T) {
	var out bytes.Buffer
	ui := newConsole(&out)
	ctl := &fakeController{}
	in := strings.NewReader("call bob\ncall nobody\nmute\nvideo\nstatus\nbogus\nquit\ncall carol\n")

	runConsole(context.Background(), in, ui, ctl)

	if len(ctl.calls) != 1 || ctl.calls[0] != "bob" {
		t.Fatalf("calls=%v, want [bob]", ctl.calls)
	}
	if ctl.ended != 1 {
		t.Fatalf("ended=%d, want 1 (from quit)", ctl.ended)
	}
	text := out.String()
	for _, want := range []string{
		"invalid call target",
		"next: " + media.AudioToggleLabel(true),
		"no local media",
		"peer=bob",
		"unknown command",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestConsoleObserver(t *testing.T) {
	var out bytes.Buffer
	ui := newConsole(&out)
	ui.StatusChanged("calling bob")
	ui.RemoteTrackAdded(media.RemoteTrack{Kind: media.KindAudio, MimeType: "audio/opus", StreamID: "s1"})
	ui.SessionClosed(peer.ReasonPeerLeft)

	text := out.String()
	for _, want := range []string{"* calling bob", "receiving audio (audio/opus) from stream s1", "call ended: peer_left"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}
