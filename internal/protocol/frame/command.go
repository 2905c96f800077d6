package frame

import "fmt"

// Command is the one-byte opcode carried by every frame.
type Command byte

const (
	Hello     Command = 0x01
	Dump      Command = 0x02
	Terminate Command = 0x04

	HelloAck    Command = 0x81
	DumpFailed  Command = 0x82
	DumpOK      Command = 0x83
	TerminateOK Command = 0x84
)

var commandNames = map[Command]string{
	Hello:       "HELLO",
	Dump:        "DUMP",
	Terminate:   "TERMINATE",
	HelloAck:    "HELLO_ACK",
	DumpFailed:  "DUMP_FAILED",
	DumpOK:      "DUMP_OK",
	TerminateOK: "TERMINATE_OK",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", byte(c))
}

// Known reports whether c is in the opcode table.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

func (c Command) IsRequest() bool {
	switch c {
	case Hello, Dump, Terminate:
		return true
	}
	return false
}

func (c Command) IsResponse() bool {
	switch c {
	case HelloAck, DumpFailed, DumpOK, TerminateOK:
		return true
	}
	return false
}
