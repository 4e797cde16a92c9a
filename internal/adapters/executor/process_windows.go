//go:build windows

package executor

import "os/exec"

func configureProcAttr(_ *exec.Cmd) {}
