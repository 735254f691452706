package storage

import (
	"errors"
)

const (
	envelopeVersion = 1

	flagDeleted byte = 1 << 0
)

// ErrMalformedEnvelope is returned when stored bytes are not an envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope wraps a stored value with the id of the tab that wrote it.
//
// Wire format: version(1) | originLen(1) | origin | flags(1) | payload.
// Deletes are stored as tombstones so the origin of a removal is known too.
type Envelope struct {
	Origin  string
	Deleted bool
	Payload []byte
}

// Encode serializes the envelope. Origins longer than 255 bytes are
// truncated.
func (e Envelope) Encode() []byte {
	origin := e.Origin
	if len(origin) > 255 {
		origin = origin[:255]
	}
	buf := make([]byte, 0, 3+len(origin)+len(e.Payload))
	buf = append(buf, envelopeVersion, byte(len(origin)))
	buf = append(buf, origin...)
	var flags byte
	if e.Deleted {
		flags |= flagDeleted
	}
	buf = append(buf, flags)
	if !e.Deleted {
		buf = append(buf, e.Payload...)
	}
	return buf
}

// DecodeEnvelope parses bytes written by Encode.
func DecodeEnvelope(data []byte) (Envelope, error) {
	if len(data) < 3 || data[0] != envelopeVersion {
		return Envelope{}, ErrMalformedEnvelope
	}
	n := int(data[1])
	if len(data) < 3+n {
		return Envelope{}, ErrMalformedEnvelope
	}
	flags := data[2+n]
	env := Envelope{
		Origin:  string(data[2 : 2+n]),
		Deleted: flags&flagDeleted != 0,
	}
	if !env.Deleted {
		payload := data[3+n:]
		env.Payload = make([]byte, len(payload))
		copy(env.Payload, payload)
	}
	return env, nil
}
