package demo

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Envelope kinds. A single leading byte discriminates the message, the same
// "kind byte" shape pkg/nspkt uses for its connectionless packets.
const (
	KindInput     byte = 'I' // raw snapshotpacket bytes for one character
	KindState     byte = 'S' // authoritative state for one character
	KindTickSpeed byte = 'T' // percent change, signed
	KindFlow      byte = 'F' // open/close a puppet's flow
	KindHello     byte = 'H' // protocol version handshake, ahead of any input
)

// EncodeHello wraps a sender's netctrl.Config.ProtocolVersion string, sent
// ahead of any KindInput so the peer can gate on Config.CompatibleWith
// before admitting a puppet, the same handshake-before-traffic shape as
// pkg/nspkt's Hconnect ahead of Tsigreq1.
func EncodeHello(character, version string) []byte {
	var b []byte
	b = append(b, KindHello)
	b = appendString(b, character)
	return append(b, version...)
}

// DecodeHello parses a KindHello envelope's body.
func DecodeHello(body []byte) (version string, err error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty hello version")
	}
	return string(body), nil
}

// EncodeInput wraps a raw snapshotpacket payload with the character it
// belongs to.
func EncodeInput(character string, packet []byte) []byte {
	var b []byte
	b = append(b, KindInput)
	b = appendString(b, character)
	return append(b, packet...)
}

// EncodeState wraps an id + JSON-encoded State with the character it belongs
// to, grounded on pkg/nspkt's SendAtlasSigreq1 JSON-payload convention.
func EncodeState(character string, id uint64, s State) ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	var b []byte
	b = append(b, KindState)
	b = appendString(b, character)
	b = binary.LittleEndian.AppendUint64(b, id)
	b = append(b, body...)
	return b, nil
}

// EncodeTickSpeed wraps a tick-speed percent change with its character.
func EncodeTickSpeed(character string, percent int8) []byte {
	var b []byte
	b = append(b, KindTickSpeed)
	b = appendString(b, character)
	b = append(b, byte(percent))
	return b
}

// EncodeFlow wraps a puppet flow open/close notification.
func EncodeFlow(character string, open bool) []byte {
	var b []byte
	b = append(b, KindFlow)
	b = appendString(b, character)
	if open {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return b
}

// Decode splits an envelope into its kind, character, and remaining body.
func Decode(data []byte) (kind byte, character string, body []byte, err error) {
	if len(data) < 1 {
		return 0, "", nil, fmt.Errorf("empty envelope")
	}
	kind = data[0]
	character, body, err = readString(data[1:])
	return
}

// DecodeState parses a KindState envelope's body (as returned by Decode).
func DecodeState(body []byte) (id uint64, s State, err error) {
	if len(body) < 8 {
		return 0, State{}, fmt.Errorf("truncated state body")
	}
	id = binary.LittleEndian.Uint64(body)
	if err := json.Unmarshal(body[8:], &s); err != nil {
		return 0, State{}, fmt.Errorf("decode state: %w", err)
	}
	return id, s, nil
}

// DecodeTickSpeed parses a KindTickSpeed envelope's body.
func DecodeTickSpeed(body []byte) (percent int8, err error) {
	if len(body) < 1 {
		return 0, fmt.Errorf("truncated tick-speed body")
	}
	return int8(body[0]), nil
}

// DecodeFlow parses a KindFlow envelope's body.
func DecodeFlow(body []byte) (open bool, err error) {
	if len(body) < 1 {
		return false, fmt.Errorf("truncated flow body")
	}
	return body[0] != 0, nil
}

func appendString(b []byte, s string) []byte {
	if len(s) > 255 {
		panic("demo: character name too long")
	}
	b = append(b, byte(len(s)))
	return append(b, s...)
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 1 {
		return "", nil, fmt.Errorf("truncated envelope: missing length byte")
	}
	n := int(b[0])
	if len(b) < 1+n {
		return "", nil, fmt.Errorf("truncated envelope: want %d character bytes, have %d", n, len(b)-1)
	}
	return string(b[1 : 1+n]), b[1+n:], nil
}
