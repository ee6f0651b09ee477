//go:build !unix

package server

import (
	"errors"
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func signalGroup(proc *os.Process, hard bool) error {
	var err error
	if hard {
		err = proc.Kill()
	} else {
		err = proc.Signal(os.Interrupt)
	}
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
