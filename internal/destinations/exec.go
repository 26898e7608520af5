package destinations

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/meko-christian/idlemail/internal/config"
	"github.com/meko-christian/idlemail/internal/hub"
)

// ExecDestination hands each mail to a spawned child process: the raw bytes
// on stdin, the origin source and destination name in the environment. Any
// non-zero exit is treated as a transient failure.
type ExecDestination struct {
	name string
	cfg  config.ExecDestinationConfig
	done chan struct{}
}

// NewExecDestination creates the child-process destination.
func NewExecDestination(name string, cfg *config.ExecDestinationConfig) *ExecDestination {
	return &ExecDestination{name: name, cfg: *cfg, done: make(chan struct{})}
}

// Start launches the worker goroutine.
func (d *ExecDestination) Start(channel *hub.DestinationChannel) {
	log := slog.With("component", "dst[exec:"+d.name+"]")
	log.Info("Starting")

	go func() {
		defer close(d.done)

		for mail := range channel.Mails() {
			if err := d.deliver(log, mail); err != nil {
				log.Error("Delivery to child process failed", "hash", mail.Hash, "error", err)
				channel.NotifyFailedSend(mail)
				continue
			}
			log.Info("Successfully piped mail to child", "hash", mail.Hash)
		}
		log.Info("Stopping")
	}()
}

// deliver runs one child invocation. Stdout is captured and logged as a
// single block per run, not interleaved line by line.
func (d *ExecDestination) deliver(log *slog.Logger, mail hub.Mail) error {
	cmd := exec.Command(d.cfg.Executable, d.cfg.Arguments...)
	cmd.Stdin = bytes.NewReader(mail.Data)
	cmd.Stderr = os.Stderr

	env := os.Environ()
	for key, value := range d.cfg.Environment {
		env = append(env, key+"="+value)
	}
	env = append(env,
		"IDLEMAIL_SOURCE="+mail.FromSrc,
		"IDLEMAIL_DESTINATION="+d.name,
	)
	cmd.Env = env

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err := cmd.Run()
	if stdout.Len() > 0 {
		log.Debug("Child output", "output", stdout.String())
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("child exited with %d", exitErr.ExitCode())
		}
		return fmt.Errorf("failed to spawn %s: %w", d.cfg.Executable, err)
	}
	return nil
}

// Join blocks until the worker goroutine has exited.
func (d *ExecDestination) Join() {
	<-d.done
}
