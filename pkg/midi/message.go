package midi

import (
	gomidi "gitlab.com/gomidi/midi/v2"
)

// Kind classifies a decoded channel message.
type Kind int

const (
	KindOther Kind = iota
	KindNoteOn
	KindNoteOff
	KindControlChange
	KindProgramChange
)

func (k Kind) String() string {
	switch k {
	case KindNoteOn:
		return "NoteOn"
	case KindNoteOff:
		return "NoteOff"
	case KindControlChange:
		return "ControlChange"
	case KindProgramChange:
		return "ProgramChange"
	default:
		return "Other"
	}
}

// Message is a structured view of a raw MIDI message.
// Data1/Data2 hold key/velocity, controller/value or program.
type Message struct {
	Kind    Kind
	Channel uint8
	Data1   uint8
	Data2   uint8
}

// Key returns the note number of a note message.
func (m Message) Key() uint8 { return m.Data1 }

// Velocity returns the velocity of a note message.
func (m Message) Velocity() uint8 { return m.Data2 }

// Controller returns the controller of a control change message.
func (m Message) Controller() Controller { return Controller(m.Data1) }

// Decode parses raw MIDI bytes. A note-on with velocity 0 decodes as note-off.
func Decode(data []byte) Message {
	msg := gomidi.Message(data)
	var ch, a, b uint8
	switch {
	case msg.GetNoteStart(&ch, &a, &b):
		return Message{Kind: KindNoteOn, Channel: ch, Data1: a, Data2: b}
	case msg.GetNoteEnd(&ch, &a):
		return Message{Kind: KindNoteOff, Channel: ch, Data1: a}
	case msg.GetControlChange(&ch, &a, &b):
		return Message{Kind: KindControlChange, Channel: ch, Data1: a, Data2: b}
	case msg.GetProgramChange(&ch, &a):
		return Message{Kind: KindProgramChange, Channel: ch, Data1: a}
	}
	return Message{Kind: KindOther}
}

// NoteOn returns the raw bytes of a note-on message.
func NoteOn(channel, key, velocity uint8) []byte {
	return gomidi.NoteOn(channel, key, velocity)
}

// NoteOff returns the raw bytes of a note-off message.
func NoteOff(channel, key uint8) []byte {
	return gomidi.NoteOff(channel, key)
}

// ControlChange returns the raw bytes of a control change message.
func ControlChange(channel uint8, c Controller, value uint8) []byte {
	return gomidi.ControlChange(channel, uint8(c), value)
}

// ProgramChange returns the raw bytes of a program change message.
func ProgramChange(channel, program uint8) []byte {
	return gomidi.ProgramChange(channel, program)
}
