// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"io"

	"github.com/ekrasikov/viewfanout/logger"
)

// CmdIO holds standard unix inputs and outputs, shared by every cmd
// subcommand so each doesn't have to thread stdin/stdout/stderr by hand.
type CmdIO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	logger logger.Logger
}

// NewCmdIO returns a new instance of CmdIO with inputs and outputs set to
// the arguments.
func NewCmdIO(stdin io.Reader, stdout, stderr io.Writer) *CmdIO {
	return &CmdIO{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		logger: logger.NewStandardLogger(stderr),
	}
}

// Logger returns the CmdIO's standard logger, writing to Stderr.
func (c *CmdIO) Logger() logger.Logger {
	return c.logger
}
