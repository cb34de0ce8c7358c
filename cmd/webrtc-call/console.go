package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/call"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/peer"
)

var errUnknownCommand = errors.New("unknown command")

type command struct {
	name string
	arg  string
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}
	name := strings.ToLower(fields[0])
	switch name {
	case "call":
		if len(fields) != 2 {
			return command{}, fmt.Errorf("usage: call <username>")
		}
		return command{name: name, arg: fields[1]}, nil
	case "end", "mute", "video", "status", "help", "quit", "exit":
		if len(fields) != 1 {
			return command{}, fmt.Errorf("usage: %s", name)
		}
		if name == "exit" {
			name = "quit"
		}
		return command{name: name}, nil
	default:
		return command{}, fmt.Errorf("%w: %q", errUnknownCommand, fields[0])
	}
}

// console prints session notifications. It implements call.Observer.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) printHelp() {
	c.printf("commands: call <username> | end | mute | video | status | quit")
}

func (c *console) StatusChanged(text string) {
	c.printf("* %s", text)
}

func (c *console) RemoteTrackAdded(t media.RemoteTrack) {
	c.printf("* receiving %s (%s) from stream %s", t.Kind, t.MimeType, t.StreamID)
	if t.Remote != nil {
		go drainRemote(t)
	}
}

func (c *console) SessionClosed(reason peer.CloseReason) {
	c.printf("* call ended: %s", reason)
}

// drainRemote keeps reading RTP so the receiver's buffers do not fill up.
func drainRemote(t media.RemoteTrack) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := t.Remote.Read(buf); err != nil {
			return
		}
	}
}

// controller is the part of call.Manager the console drives.
type controller interface {
	StartCall(ctx context.Context, target string) error
	EndCall()
	ToggleLocalAudio() (bool, string, error)
	ToggleLocalVideo() (bool, string, error)
	Snapshot() call.Snapshot
}

// runConsole reads commands from in until quit, EOF, or ctx is done.
func runConsole(ctx context.Context, in io.Reader, ui *console, ctl controller) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd, err := parseCommand(line)
			if err != nil {
				ui.printf("error: %v", err)
				continue
			}
			if cmd.name == "quit" {
				ctl.EndCall()
				return
			}
			execute(ctx, ui, ctl, cmd)
		}
	}
}

func execute(ctx context.Context, ui *console, ctl controller, cmd command) {
	switch cmd.name {
	case "":
	case "help":
		ui.printHelp()
	case "call":
		if err := ctl.StartCall(ctx, cmd.arg); err != nil {
			ui.printf("error: %v", err)
		}
	case "end":
		ctl.EndCall()
	case "mute":
		if _, label, err := ctl.ToggleLocalAudio(); err != nil {
			ui.printf("error: %v", err)
		} else {
			ui.printf("audio toggled, next: %s", label)
		}
	case "video":
		if _, label, err := ctl.ToggleLocalVideo(); err != nil {
			ui.printf("error: %v", err)
		} else {
			ui.printf("video toggled, next: %s", label)
		}
	case "status":
		s := ctl.Snapshot()
		if s.Target == "" {
			ui.printf("phase=%s", s.Phase)
			return
		}
		ui.printf("phase=%s role=%s peer=%s reason=%s", s.Phase, s.Role, s.Target, s.Reason)
	}
}
