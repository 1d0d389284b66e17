package notify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"
)

// Prompter asks the user whether desktop notifications may be shown.
type Prompter interface {
	Prompt(ctx context.Context, question string) (bool, error)
}

// Desktop shows notifications through beeep. Permission is negotiated once
// through the Prompter.
type Desktop struct {
	supported bool
	prompter  Prompter
	send      func(title, body string) error

	mu         sync.Mutex
	permission Permission
}

// NewDesktop returns a Desktop for the running platform. A nil prompter
// denies every permission request.
func NewDesktop(prompter Prompter) *Desktop {
	return &Desktop{
		supported:  platformSupported(runtime.GOOS),
		prompter:   prompter,
		send:       beeepNotify,
		permission: PermissionDefault,
	}
}

// platformSupported reports whether beeep has a notification backend for goos.
func platformSupported(goos string) bool {
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd", "darwin", "windows":
		return true
	}
	return false
}

func beeepNotify(title, body string) error {
	return beeep.Notify(title, body, "")
}

func (d *Desktop) Supported() bool {
	return d.supported && d.send != nil
}

func (d *Desktop) Permission() Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permission
}

// SetPermission records a permission decision, e.g. one restored from the
// preference store at startup.
func (d *Desktop) SetPermission(p Permission) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.permission = p
}

func (d *Desktop) RequestPermission(ctx context.Context) (Permission, error) {
	if d.prompter == nil {
		d.SetPermission(PermissionDenied)
		return PermissionDenied, nil
	}
	ok, err := d.prompter.Prompt(ctx, "Allow desktop notifications?")
	if err != nil {
		return PermissionDefault, fmt.Errorf("prompt for notification permission: %w", err)
	}
	p := PermissionDenied
	if ok {
		p = PermissionGranted
	}
	d.SetPermission(p)
	return p, nil
}

func (d *Desktop) Notify(title, body string) error {
	if !d.Supported() {
		return ErrUnsupported
	}
	if err := d.send(title, body); err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}
	return nil
}

// LinePrompter asks on Out and reads a y/n answer from In.
type LinePrompter struct {
	In  io.Reader
	Out io.Writer
}

func (p LinePrompter) Prompt(ctx context.Context, question string) (bool, error) {
	if _, err := fmt.Fprintf(p.Out, "%s [y/N] ", question); err != nil {
		return false, err
	}
	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		ch <- answer{line: line, err: err}
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return false, a.err
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// StaticPrompter answers every prompt the same way.
type StaticPrompter bool

func (s StaticPrompter) Prompt(context.Context, string) (bool, error) {
	return bool(s), nil
}
