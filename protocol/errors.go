package protocol

import "fmt"

// MalformedFrame reports a message whose declared length does not match
// its actual payload, or whose payload is too short to contain a field
// the codec requires.
type MalformedFrame struct {
	Tag    byte
	Reason string
}

func (e *MalformedFrame) Error() string {
	if e.Tag == 0 {
		return fmt.Sprintf("malformed frame: %s", e.Reason)
	}
	return fmt.Sprintf("malformed frame (tag %q): %s", e.Tag, e.Reason)
}

func malformed(tag byte, reason string) error {
	return &MalformedFrame{Tag: tag, Reason: reason}
}
