package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/conductor-dev/conductor/log"
)

const (
	// readChunkSize is the size of each stdout read.
	readChunkSize = 32 * 1024

	// shutdownGrace is how long Close waits after SIGINT before
	// escalating to SIGKILL. The CLI is a Node program and ignores
	// SIGTERM.
	shutdownGrace = 5 * time.Second
)

// PermissionMode selects how much autonomy the spawned agent gets.
type PermissionMode string

const (
	// PermissionAutonomous skips all confirmation prompts.
	PermissionAutonomous PermissionMode = "autonomous"
	// PermissionReadOnly restricts the agent to a safe tool allow-list.
	PermissionReadOnly PermissionMode = "read-only"
	// PermissionInteractive leaves the CLI's own prompting in place.
	PermissionInteractive PermissionMode = "interactive"
)

// readOnlyTools is the allow-list applied in read-only mode.
var readOnlyTools = []string{"Read", "Glob", "Grep", "WebFetch", "WebSearch", "Task"}

// hostEnvDenylist names environment variables stripped from the child so
// the host's own dependency-resolution paths do not leak into the
// spawned tool and collide with its bundled runtime.
var hostEnvDenylist = map[string]bool{
	"NODE_PATH":         true,
	"NODE_OPTIONS":      true,
	"NPM_CONFIG_PREFIX": true,
}

// InvokeOptions parameterizes one agent turn.
type InvokeOptions struct {
	WorkingDir string
	Prompt     string
	// ResumeID resumes the agent's own prior conversation state.
	ResumeID string
	// AgentID selects a named sub-agent configuration, when set.
	AgentID string
}

// Run is one in-flight invocation as seen by the orchestrator: an event
// stream, a terminal outcome, and a kill switch.
type Run interface {
	// Events yields normalized protocol events in emission order. The
	// channel closes once the process has exited and the final carry
	// buffer is flushed.
	Events() <-chan Event
	// Wait blocks until the process exits and returns the outcome.
	Wait() Outcome
	// Kill force-terminates the whole process tree.
	Kill()
	// Shutdown asks the process to stop with SIGINT and escalates to
	// Kill after a grace period.
	Shutdown()
}

// Supervisor spawns agent CLI processes. One Supervisor serves all
// sessions; each call to Start produces an independent Run.
type Supervisor struct {
	binary         string
	model          string
	permissionMode PermissionMode
	extraEnv       map[string]string
}

// NewSupervisor creates a supervisor for the given CLI binary.
func NewSupervisor(binary, model string, mode PermissionMode, extraEnv map[string]string) *Supervisor {
	if binary == "" {
		binary = "claude"
	}
	return &Supervisor{
		binary:         binary,
		model:          model,
		permissionMode: mode,
		extraEnv:       extraEnv,
	}
}

// buildArgs composes the CLI argument vector for one invocation.
func (s *Supervisor) buildArgs(opts InvokeOptions) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--include-partial-messages",
		"--verbose",
	}

	if s.model != "" {
		args = append(args, "--model", s.model)
	}
	if opts.ResumeID != "" {
		args = append(args, "--resume", opts.ResumeID)
	}
	if opts.AgentID != "" {
		args = append(args, "--agents", opts.AgentID)
	}

	switch s.permissionMode {
	case PermissionAutonomous:
		args = append(args, "--dangerously-skip-permissions")
	case PermissionReadOnly:
		args = append(args, "--allowedTools", strings.Join(readOnlyTools, ","))
	}

	return args
}

// buildEnv merges the sanitized host environment with the configured
// extra variables.
func (s *Supervisor) buildEnv() []string {
	env := make([]string, 0, len(os.Environ())+len(s.extraEnv))
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if hostEnvDenylist[name] {
			continue
		}
		env = append(env, kv)
	}
	for key, value := range s.extraEnv {
		env = append(env, key+"="+value)
	}
	return env
}

// Start spawns one invocation. Spawn failure is reported through the Run
// rather than an error return, so callers have a single completion path.
func (s *Supervisor) Start(opts InvokeOptions) Run {
	inv := &invocation{
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}

	args := s.buildArgs(opts)

	log.Info().
		Str("bin", s.binary).
		Str("cwd", opts.WorkingDir).
		Bool("resuming", opts.ResumeID != "").
		Msg("starting agent process")
	log.Debug().Strs("args", args).Msg("agent process args")

	cmd := exec.Command(s.binary, args...)
	cmd.Dir = opts.WorkingDir
	cmd.Env = s.buildEnv()
	// Own process group so Kill can take down the whole tree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return inv.failEarly(fmt.Errorf("failed to create stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return inv.failEarly(fmt.Errorf("failed to create stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return inv.failEarly(fmt.Errorf("failed to create stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return inv.failEarly(fmt.Errorf("failed to start agent process: %w", err))
	}
	inv.cmd = cmd

	log.Info().Int("pid", cmd.Process.Pid).Msg("agent process started")

	// The protocol expects the full turn on stdin, then a closed pipe:
	// the process must never block waiting for more input
	go func() {
		if err := writePrompt(stdin, opts.Prompt); err != nil {
			log.Warn().Err(err).Msg("failed to write prompt to agent stdin")
		}
		stdin.Close()
	}()

	go inv.drainStderr(stderr)
	go inv.readLoop(stdout)

	return inv
}

// writePrompt frames the user content as one stream-json input message.
func writePrompt(w io.Writer, prompt string) error {
	frame := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": prompt},
			},
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// invocation implements Run for a real subprocess.
type invocation struct {
	cmd    *exec.Cmd
	events chan Event

	done    chan struct{}
	outcome Outcome

	killOnce sync.Once
	killed   bool
	killMu   sync.Mutex
}

// failEarly resolves an invocation that never got a process.
func (inv *invocation) failEarly(err error) *invocation {
	log.Error().Err(err).Msg("agent spawn failed")
	inv.outcome = Outcome{Success: false, Err: err}
	close(inv.events)
	close(inv.done)
	return inv
}

func (inv *invocation) Events() <-chan Event {
	return inv.events
}

func (inv *invocation) Wait() Outcome {
	<-inv.done
	return inv.outcome
}

// Kill terminates the whole process group. SIGKILL directly: the caller
// has already decided the run is over, and the CLI ignores SIGTERM.
func (inv *invocation) Kill() {
	inv.killOnce.Do(func() {
		inv.killMu.Lock()
		inv.killed = true
		inv.killMu.Unlock()

		if inv.cmd == nil || inv.cmd.Process == nil {
			return
		}
		pid := inv.cmd.Process.Pid
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			// Group kill can fail if the child never got its own
			// group; fall back to the single process
			inv.cmd.Process.Kill()
		}
		log.Info().Int("pid", pid).Msg("agent process tree killed")
	})
}

// Shutdown sends SIGINT and escalates to Kill if the process is still
// alive after the grace period. SIGINT is the only graceful signal the
// CLI honors.
func (inv *invocation) Shutdown() {
	inv.killMu.Lock()
	inv.killed = true
	inv.killMu.Unlock()

	if inv.cmd == nil || inv.cmd.Process == nil {
		return
	}
	inv.cmd.Process.Signal(syscall.SIGINT)

	select {
	case <-inv.done:
	case <-time.After(shutdownGrace):
		log.Warn().Msg("agent process ignored SIGINT, killing")
		inv.Kill()
	}
}

func (inv *invocation) wasKilled() bool {
	inv.killMu.Lock()
	defer inv.killMu.Unlock()
	return inv.killed
}

// readLoop pumps stdout through the parser, then waits for exit and
// resolves the outcome.
func (inv *invocation) readLoop(stdout io.Reader) {
	var p parser
	var transcript strings.Builder

	buf := make([]byte, readChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			transcript.Write(buf[:n])
			for _, ev := range p.feed(buf[:n]) {
				inv.events <- ev
			}
		}
		if err != nil {
			break
		}
	}

	// Flush the carry-over line once output ends
	for _, ev := range p.flush() {
		inv.events <- ev
	}

	err := inv.cmd.Wait()
	success := err == nil

	outcome := Outcome{Success: success, Output: transcript.String()}
	if err != nil && !inv.wasKilled() {
		outcome.Err = fmt.Errorf("agent process failed: %w", err)
		log.Warn().Err(err).Msg("agent process exited with error")
	} else if inv.wasKilled() {
		outcome.Err = fmt.Errorf("agent process cancelled")
	} else {
		log.Debug().Msg("agent process exited cleanly")
	}

	inv.outcome = outcome
	close(inv.events)
	close(inv.done)
}

// drainStderr logs diagnostic output without letting the pipe fill.
func (inv *invocation) drainStderr(stderr io.Reader) {
	buf := make([]byte, 8192)
	var pending string
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			pending += string(buf[:n])
			for {
				line, rest, found := strings.Cut(pending, "\n")
				if !found {
					break
				}
				pending = rest
				if line = strings.TrimSpace(line); line != "" {
					log.Debug().Str("stderr", truncate(line, 500)).Msg("agent stderr")
				}
			}
		}
		if err != nil {
			if line := strings.TrimSpace(pending); line != "" {
				log.Debug().Str("stderr", truncate(line, 500)).Msg("agent stderr")
			}
			return
		}
	}
}
