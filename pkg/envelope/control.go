// SPDX-License-Identifier: GPL-2.0-or-later

package envelope

import (
	"bytes"
	"errors"
	"fmt"
)

// Control instruction sent from the recorder to a node as raw bytes,
// outside of the envelope encoding.
type Control uint8

// Control instructions.
const (
	ControlStart Control = iota + 1
	ControlStop
)

var (
	controlStart = []byte("START")
	controlStop  = []byte("STOP")
)

// Bytes returns the raw byte sequence.
func (c Control) Bytes() []byte {
	switch c {
	case ControlStart:
		return controlStart
	case ControlStop:
		return controlStop
	default:
		return nil
	}
}

func (c Control) String() string {
	if b := c.Bytes(); b != nil {
		return string(b)
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// ErrUnknownControl unknown control sequence.
var ErrUnknownControl = errors.New("unknown control sequence")

// ParseControl parses a raw control sequence.
func ParseControl(b []byte) (Control, error) {
	switch {
	case bytes.Equal(b, controlStart):
		return ControlStart, nil
	case bytes.Equal(b, controlStop):
		return ControlStop, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownControl, b)
	}
}
