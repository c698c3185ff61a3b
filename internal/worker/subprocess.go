package worker

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
)

// CommandRunner executes an external tool, streaming its combined
// output line by line to onLine.
type CommandRunner interface {
	Run(ctx context.Context, cmd []string, dir string, onLine func(line string)) error
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, cmd []string, dir string, onLine func(line string)) error {
	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	c.Dir = dir

	// stderr is interleaved with stdout so progress markers printed to
	// either stream are seen in order.
	pipe, err := c.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout pipe: %w", err)
	}
	c.Stderr = c.Stdout

	if err := c.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cmd[0], err)
	}

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			onLine(line)
		}
	}
	if err := scanner.Err(); err != nil {
		// Keep draining via Wait below; report the stream error only
		// if the process itself exits cleanly.
		if waitErr := c.Wait(); waitErr != nil {
			return fmt.Errorf("%s: %w", cmd[0], waitErr)
		}
		return fmt.Errorf("read %s output: %w", cmd[0], err)
	}

	if err := c.Wait(); err != nil {
		return fmt.Errorf("%s: %w", cmd[0], err)
	}
	return nil
}
