// Package tunnel supervises a cloudflared quick tunnel exposing the local
// webhook endpoint on a public URL.
package tunnel

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"sync"

	"signalflow/logger"
)

var publicURLPattern = regexp.MustCompile(`https?://[\w.-]*trycloudflare\.com`)

// Tunnel runs one cloudflared process and reports the public URL it was
// assigned. The URL shows up on the process output; there is no API for
// it.
type Tunnel struct {
	bin      string
	localURL string
	onURL    func(url string)
	log      *logger.Log

	mu        sync.Mutex
	cmd       *exec.Cmd
	publicURL string
}

// New prepares a tunnel for localURL. onURL is invoked once, from the
// supervisor goroutine, when the public URL is first seen; it may be nil.
func New(bin, localURL string, onURL func(url string)) *Tunnel {
	if bin == "" {
		bin = "cloudflared"
	}
	return &Tunnel{
		bin:      bin,
		localURL: localURL,
		onURL:    onURL,
		log:      logger.GetLogger(),
	}
}

// Start launches cloudflared and a goroutine that follows its output. The
// process dies with ctx.
func (t *Tunnel) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, t.bin, "tunnel", "--url", t.localURL, "--no-autoupdate")
	out, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout

	log := t.log.WithComponent("tunnel")
	log.WithFields(logger.Fields{"bin": t.bin, "local_url": t.localURL}).Info("starting tunnel")
	if err := cmd.Start(); err != nil {
		return err
	}

	t.mu.Lock()
	t.cmd = cmd
	t.mu.Unlock()

	go func() {
		scanner := bufio.NewScanner(out)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			log.WithFields(logger.Fields{"line": line}).Debug("cloudflared output")
			t.observeLine(line)
		}
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("cloudflared exited")
		}
	}()
	return nil
}

func (t *Tunnel) observeLine(line string) {
	t.mu.Lock()
	already := t.publicURL != ""
	t.mu.Unlock()
	if already {
		return
	}

	url := publicURLPattern.FindString(line)
	if url == "" {
		return
	}

	t.mu.Lock()
	t.publicURL = url
	t.mu.Unlock()

	t.log.WithComponent("tunnel").WithFields(logger.Fields{"url": url}).Info("tunnel established")
	if t.onURL != nil {
		t.onURL(url)
	}
}

// PublicURL returns the assigned URL, empty until the tunnel reports one.
func (t *Tunnel) PublicURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.publicURL
}

// Stop terminates the cloudflared process if it is running.
func (t *Tunnel) Stop() {
	t.mu.Lock()
	cmd := t.cmd
	t.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	t.log.WithComponent("tunnel").Info("stopping tunnel")
	_ = cmd.Process.Kill()
}
