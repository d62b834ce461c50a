// SPDX-License-Identifier: GPL-2.0-or-later

// Package console reads operator commands line by line.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/EvanMerlock/sports-record/pkg/log"
)

// Op command operation.
type Op string

// Operations.
const (
	OpStart  Op = "START"
	OpStop   Op = "STOP"
	OpClean  Op = "CLEAN"
	OpRemove Op = "REMOVE"
)

// Command parsed operator command.
type Command struct {
	Op    Op
	Addrs []string
}

// Parse errors.
var (
	ErrEmpty          = errors.New("empty command")
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingAddress = errors.New("missing address")
	ErrTrailingArgs   = errors.New("unexpected arguments")
)

// Parse parses a command line, the operation is case insensitive.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrEmpty
	}

	op := Op(strings.ToUpper(fields[0]))
	args := fields[1:]
	switch op {
	case OpStart, OpStop, OpClean:
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%w: %v %q", ErrTrailingArgs, op, args)
		}
		return Command{Op: op}, nil
	case OpRemove:
		if len(args) == 0 {
			return Command{}, ErrMissingAddress
		}
		return Command{Op: op, Addrs: args}, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}
}

// Controller executes commands.
type Controller interface {
	Start(ctx context.Context) (int64, error)
	Stop() bool
	Cleanup()
	Remove(addrs ...string) error
}

// Console dispatches commands read from in.
type Console struct {
	in         io.Reader
	controller Controller
	logger     *log.Logger
}

// New returns a new console.
func New(in io.Reader, controller Controller, logger *log.Logger) *Console {
	return &Console{
		in:         in,
		controller: controller,
		logger:     logger,
	}
}

// Run reads commands until EOF or ctx is canceled.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			if err != nil {
				return fmt.Errorf("read command: %w", err)
			}
			return nil
		case line := <-lines:
			c.handle(ctx, line)
		}
	}
}

func (c *Console) handle(ctx context.Context, line string) {
	cmd, err := Parse(line)
	if errors.Is(err, ErrEmpty) {
		return
	}
	if err != nil {
		c.logger.Warn().Src("console").Msgf("%v", err)
		return
	}
	if err := c.Exec(ctx, cmd); err != nil {
		c.logger.Error().Src("console").Msgf("%v: %v", cmd.Op, err)
	}
}

// Exec executes a parsed command.
func (c *Console) Exec(ctx context.Context, cmd Command) error {
	switch cmd.Op {
	case OpStart:
		_, err := c.controller.Start(ctx)
		return err
	case OpStop:
		c.controller.Stop()
		return nil
	case OpClean:
		c.controller.Cleanup()
		return nil
	case OpRemove:
		return c.controller.Remove(cmd.Addrs...)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownCommand, cmd.Op)
	}
}
