// Package wire implements the line-oriented text protocol shared by the group
// chat server and client. Every frame except the two admission literals has the
// shape "<Prefix>:<Payload>"; payloads are escaped so that the frame delimiter
// never appears inside them and every frame round-trips through Encode/Decode.
package wire

import "strings"

// Admission literals and frame prefixes. These are fixed by the protocol and
// shared verbatim by both sides.
const (
	AcceptMessage = "RequestAccepted"
	DenyMessage   = "RequestDenied"

	ChatPrefix     = "Chat:"
	RosterPrefix   = "UpdateClientList:"
	ShutdownPrefix = "ShutDown:"
)

// Shutdown reason tokens sent with a ShutDown frame.
const (
	ReasonServerTerminated = "ServerTerminated"
	ReasonClientTerminated = "ClientTerminated"
)

// Kind identifies the variant of a Frame.
type Kind int

const (
	// Malformed is produced by Decode for input that fails to parse.
	// It is never sent on the wire.
	Malformed Kind = iota
	// Accept is the admission grant, sent once at connection start.
	Accept
	// Deny is the admission rejection, sent once at connection start.
	Deny
	// RosterUpdate carries the full ordered list of connected display names.
	RosterUpdate
	// Chat carries one chat line. On server-to-client frames the text is
	// already attributed ("<name>> <message>").
	Chat
	// Shutdown announces a teardown with a reason token.
	Shutdown
)

// String returns a human-readable name for the frame kind.
func (k Kind) String() string {
	switch k {
	case Accept:
		return "Accept"
	case Deny:
		return "Deny"
	case RosterUpdate:
		return "RosterUpdate"
	case Chat:
		return "Chat"
	case Shutdown:
		return "Shutdown"
	case Malformed:
		return "Malformed"
	default:
		return "Unknown"
	}
}

// Frame is one decoded protocol message. Only the field matching Kind is
// meaningful: Text for Chat, Names for RosterUpdate, Reason for Shutdown.
type Frame struct {
	Kind   Kind
	Text   string
	Names  []string
	Reason string
}

// AcceptFrame returns the admission grant frame.
func AcceptFrame() Frame { return Frame{Kind: Accept} }

// DenyFrame returns the admission rejection frame.
func DenyFrame() Frame { return Frame{Kind: Deny} }

// ChatFrame returns a Chat frame carrying the given text.
func ChatFrame(text string) Frame { return Frame{Kind: Chat, Text: text} }

// RosterFrame returns a RosterUpdate frame carrying the given names in order.
func RosterFrame(names []string) Frame { return Frame{Kind: RosterUpdate, Names: names} }

// ShutdownFrame returns a Shutdown frame carrying the given reason token.
func ShutdownFrame(reason string) Frame { return Frame{Kind: Shutdown, Reason: reason} }

// Encode serializes a frame to its wire form. Encoding a Malformed frame
// returns nil; it has no wire representation.
func Encode(f Frame) []byte {
	switch f.Kind {
	case Accept:
		return []byte(AcceptMessage)
	case Deny:
		return []byte(DenyMessage)
	case Chat:
		return []byte(ChatPrefix + escape(f.Text))
	case RosterUpdate:
		return []byte(RosterPrefix + encodeNames(f.Names))
	case Shutdown:
		return []byte(ShutdownPrefix + escape(f.Reason))
	default:
		return nil
	}
}

// Decode parses wire bytes into a Frame. It never fails: input that does not
// match an admission literal, does not contain exactly one colon, carries an
// unknown prefix, or contains an invalid escape sequence decodes to a
// Malformed frame. Callers decide what a Malformed frame costs the peer.
func Decode(data []byte) Frame {
	s := string(data)

	switch s {
	case AcceptMessage:
		return Frame{Kind: Accept}
	case DenyMessage:
		return Frame{Kind: Deny}
	}

	if strings.Count(s, ":") != 1 {
		return Frame{Kind: Malformed}
	}

	sep := strings.IndexByte(s, ':')
	prefix, payload := s[:sep+1], s[sep+1:]

	switch prefix {
	case ChatPrefix:
		text, ok := unescape(payload)
		if !ok {
			return Frame{Kind: Malformed}
		}
		return Frame{Kind: Chat, Text: text}
	case RosterPrefix:
		names, ok := decodeNames(payload)
		if !ok {
			return Frame{Kind: Malformed}
		}
		return Frame{Kind: RosterUpdate, Names: names}
	case ShutdownPrefix:
		reason, ok := unescape(payload)
		if !ok {
			return Frame{Kind: Malformed}
		}
		return Frame{Kind: Shutdown, Reason: reason}
	default:
		return Frame{Kind: Malformed}
	}
}

// encodeNames serializes a roster as escaped names joined with commas. The
// escaped form contains neither the frame delimiter nor the list separator,
// so the encoding is unambiguous for any name content.
func encodeNames(names []string) string {
	if len(names) == 0 {
		return ""
	}

	escaped := make([]string, len(names))
	for i, name := range names {
		escaped[i] = escape(name)
	}

	return strings.Join(escaped, ",")
}

// decodeNames parses a roster payload back into the ordered name list.
// An empty payload is the empty roster.
func decodeNames(payload string) ([]string, bool) {
	if payload == "" {
		return nil, true
	}

	parts := strings.Split(payload, ",")
	names := make([]string, len(parts))
	for i, part := range parts {
		name, ok := unescape(part)
		if !ok {
			return nil, false
		}
		names[i] = name
	}

	return names, true
}

// escape rewrites payload text so it contains no ':' (frame delimiter) and
// no ',' (roster separator): '\' -> `\\`, ':' -> `\c`, ',' -> `\m`.
func escape(s string) string {
	if !strings.ContainsAny(s, `\:,`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			b.WriteString(`\\`)
		case ':':
			b.WriteString(`\c`)
		case ',':
			b.WriteString(`\m`)
		default:
			b.WriteByte(s[i])
		}
	}

	return b.String()
}

// unescape reverses escape. A dangling backslash or an unknown escape pair
// means the payload was not produced by a compliant encoder; it reports false
// and the caller surfaces a Malformed frame.
func unescape(s string) (string, bool) {
	if !strings.ContainsRune(s, '\\') {
		return s, true
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}

		i++
		if i >= len(s) {
			return "", false
		}

		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'c':
			b.WriteByte(':')
		case 'm':
			b.WriteByte(',')
		default:
			return "", false
		}
	}

	return b.String(), true
}
