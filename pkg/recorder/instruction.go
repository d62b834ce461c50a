// SPDX-License-Identifier: GPL-2.0-or-later

package recorder

import "fmt"

// InstructionKind kind of recording instruction.
type InstructionKind uint8

// Instruction kinds.
const (
	KindStartRecording InstructionKind = iota + 1
	KindStopRecording
	KindCleanup
)

func (k InstructionKind) String() string {
	switch k {
	case KindStartRecording:
		return "start"
	case KindStopRecording:
		return "stop"
	case KindCleanup:
		return "cleanup"
	default:
		return fmt.Sprintf("instruction(%d)", uint8(k))
	}
}

// Instruction is sent from the registry to every worker.
// Cleanup is terminal for a worker.
type Instruction struct {
	Kind InstructionKind

	// Play number, only set for StartRecording.
	Play int64
}

// StartRecording returns a start instruction for play.
func StartRecording(play int64) Instruction {
	return Instruction{Kind: KindStartRecording, Play: play}
}

// StopRecording returns a stop instruction.
func StopRecording() Instruction {
	return Instruction{Kind: KindStopRecording}
}

// Cleanup returns a cleanup instruction.
func Cleanup() Instruction {
	return Instruction{Kind: KindCleanup}
}

func (i Instruction) String() string {
	if i.Kind == KindStartRecording {
		return fmt.Sprintf("start(%d)", i.Play)
	}
	return i.Kind.String()
}
