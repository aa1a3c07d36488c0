package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// ClusterSpec es lo que necesita un proceso de cluster para arrancar.
type ClusterSpec struct {
	ClusterID  int
	ShardIDs   []int
	ShardCount int
}

// Process es un proceso de cluster en marcha.
type Process interface {
	Pid() int
	// Wait bloquea hasta que el proceso termina. signaled es true si murió por
	// una señal; entonces code no significa nada.
	Wait() (code int, signaled bool, err error)
	Signal(sig syscall.Signal) error
}

// Spawner arranca el proceso de un cluster.
type Spawner interface {
	Spawn(ctx context.Context, spec ClusterSpec) (Process, error)
}

// ExecSpawner lanza el binario del bot con los flags del cluster.
type ExecSpawner struct {
	Path string
	// Args se pasan antes de los flags del cluster.
	Args []string
	Env  []string
}

func (s ExecSpawner) Spawn(_ context.Context, spec ClusterSpec) (Process, error) {
	shards := make([]string, len(spec.ShardIDs))
	for i, id := range spec.ShardIDs {
		shards[i] = strconv.Itoa(id)
	}

	args := append([]string(nil), s.Args...)
	args = append(args,
		"--cluster-id", strconv.Itoa(spec.ClusterID),
		"--shards", strings.Join(shards, ","),
		"--shard-count", strconv.Itoa(spec.ShardCount),
	)

	// sin contexto: el launcher decide cuándo matar al proceso
	cmd := exec.Command(s.Path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), s.Env...)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launcher: start cluster %d: %w", spec.ClusterID, err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Wait() (int, bool, error) {
	err := p.cmd.Wait()
	state := p.cmd.ProcessState
	if state == nil {
		return 0, false, err
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 0, true, nil
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return 0, false, err
	}
	return state.ExitCode(), false, nil
}

func (p *execProcess) Signal(sig syscall.Signal) error {
	return p.cmd.Process.Signal(sig)
}
