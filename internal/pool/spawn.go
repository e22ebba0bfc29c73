package pool

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"simpool/internal/ipc"
	"simpool/internal/worker"
)

// Process is a running worker as seen by the controller.
type Process interface {
	PID() int
	Alive() bool
	Kill() error
	// Wait blocks until the process exits or timeout passes and reports
	// whether it exited.
	Wait(timeout time.Duration) bool
}

// Spawner starts the worker for one slot and hands back its channel.
type Spawner interface {
	Spawn(ctx context.Context, index int) (*ipc.Conn, Process, error)
}

// ExecSpawner runs each worker as a child process talking over two OS
// pipes, one per direction. Stdin and stdout of the child carry frames.
type ExecSpawner struct {
	Path string
	Args func(index int) []string
	Env  []string
	// LogDir receives worker_<i>.log with the child's stderr. Empty means
	// the controller's stderr.
	LogDir string
}

func (s ExecSpawner) Spawn(_ context.Context, index int) (*ipc.Conn, Process, error) {
	cmdR, cmdW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("command pipe: %w", err)
	}
	respR, respW, err := os.Pipe()
	if err != nil {
		cmdR.Close()
		cmdW.Close()
		return nil, nil, fmt.Errorf("reply pipe: %w", err)
	}
	closeAll := func() {
		cmdR.Close()
		cmdW.Close()
		respR.Close()
		respW.Close()
	}

	var args []string
	if s.Args != nil {
		args = s.Args(index)
	}
	cmd := exec.Command(s.Path, args...)
	cmd.Stdin = cmdR
	cmd.Stdout = respW
	cmd.Env = append(os.Environ(), s.Env...)

	var logFile *os.File
	if s.LogDir != "" {
		if err := os.MkdirAll(s.LogDir, 0o755); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		logFile, err = os.Create(filepath.Join(s.LogDir, fmt.Sprintf("worker_%d.log", index)))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("create worker log: %w", err)
		}
		cmd.Stderr = logFile
	} else {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		closeAll()
		if logFile != nil {
			logFile.Close()
		}
		return nil, nil, fmt.Errorf("start worker %d: %w", index, err)
	}
	cmdR.Close()
	respW.Close()

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
		close(p.done)
	}()
	return ipc.NewConn(respR, cmdW, p.Alive), p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Kill() error {
	if !p.Alive() {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait(timeout time.Duration) bool {
	return waitDone(p.done, timeout)
}

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// LocalSpawner runs each worker loop on a goroutine in this process, over
// the same pipe transport ExecSpawner uses.
type LocalSpawner struct {
	NewEnv func(index int) (worker.Env, error)
	Logger *log.Logger
	Debug  bool
}

func (s LocalSpawner) Spawn(_ context.Context, index int) (*ipc.Conn, Process, error) {
	cmdR, cmdW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("command pipe: %w", err)
	}
	respR, respW, err := os.Pipe()
	if err != nil {
		cmdR.Close()
		cmdW.Close()
		return nil, nil, fmt.Errorf("reply pipe: %w", err)
	}

	logger := s.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	p := &localProcess{
		pid:    -(index + 1),
		done:   make(chan struct{}),
		closer: []io.Closer{cmdR, respW},
	}
	go func() {
		defer close(p.done)
		err := worker.Serve(cmdR, respW, func() (worker.Env, error) {
			return s.NewEnv(index)
		}, worker.Options{Index: index, Logger: logger, Debug: s.Debug})
		if err != nil {
			logger.Printf("worker %d exited: %v", index, err)
		}
		p.release()
	}()
	return ipc.NewConn(respR, cmdW, p.Alive), p, nil
}

type localProcess struct {
	pid    int
	done   chan struct{}
	once   sync.Once
	closer []io.Closer
}

func (p *localProcess) release() {
	p.once.Do(func() {
		for _, c := range p.closer {
			c.Close()
		}
	})
}

func (p *localProcess) PID() int { return p.pid }

func (p *localProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Kill cuts the worker's pipes. A loop blocked inside the env keeps its
// goroutine until the env returns.
func (p *localProcess) Kill() error {
	p.release()
	return nil
}

func (p *localProcess) Wait(timeout time.Duration) bool {
	return waitDone(p.done, timeout)
}
