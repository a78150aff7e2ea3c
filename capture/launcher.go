package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// Process is a running external program.
type Process interface {
	// Quit asks the program to finish cleanly (ffmpeg reads "q" on stdin).
	Quit() error
	Kill() error
	Wait() error
	Pid() int
}

// Launcher starts external programs. Tests substitute a fake.
type Launcher interface {
	Launch(ctx context.Context, path string, args []string, stderr io.Writer) (Process, error)
}

// ExecLauncher starts real processes with os/exec. The process is not bound
// to ctx: the supervisor owns its lifetime and stops it explicitly.
type ExecLauncher struct{}

// Launch implements Launcher.
func (ExecLauncher) Launch(_ context.Context, path string, args []string, stderr io.Writer) (Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stdin: stdin}, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (p *execProcess) Quit() error {
	_, err := io.WriteString(p.stdin, "q")
	cerr := p.stdin.Close()
	if err != nil {
		return err
	}
	return cerr
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error { return p.cmd.Wait() }

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
