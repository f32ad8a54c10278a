package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Schema versions for the binary session encoding. The fixed header
// (version byte, refresh hash, fingerprint, three timestamps) is identical
// across versions so the Lua scripts can patch it at stable offsets; newer
// versions only append fields to the variable tail.
const (
	// CurrentSchemaVersion is written for new and migrated sessions.
	CurrentSchemaVersion uint8 = 2
	// schemaVersionV1 lacked the IP and user-agent tail fields.
	schemaVersionV1 uint8 = 1
)

// Fixed header layout, offsets in bytes from the start of the blob:
// version(1) refreshHash(32) fingerprint(32) createdAt(8) lastSeenAt(8) expiresAt(8).
const (
	headerLen        = 1 + 32 + 32 + 8 + 8 + 8
	refreshHashOff   = 1
	fingerprintOff   = 33
	createdAtOff     = 65
	lastSeenAtOff    = 73
	expiresAtOff     = 81
	maxUserAgentLen  = 1024
	maxShortFieldLen = 255
)

func Encode(s *Session) ([]byte, error) {
	if len(s.IdentityID) == 0 || len(s.IdentityID) > maxShortFieldLen {
		return nil, errors.New("identity id length out of range")
	}
	if len(s.TenantID) > maxShortFieldLen {
		return nil, errors.New("tenant id too long")
	}
	if len(s.IP) > maxShortFieldLen {
		return nil, errors.New("ip too long")
	}
	if len(s.UserAgent) > maxUserAgentLen {
		return nil, errors.New("user agent too long")
	}

	var buf bytes.Buffer
	buf.Grow(headerLen + 4 + len(s.IdentityID) + len(s.TenantID) + len(s.IP) + len(s.UserAgent))

	buf.WriteByte(CurrentSchemaVersion)
	buf.Write(s.RefreshHash[:])
	buf.Write(s.Fingerprint[:])

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(s.CreatedAt))
	buf.Write(ts[:])
	binary.BigEndian.PutUint64(ts[:], uint64(s.LastSeenAt))
	buf.Write(ts[:])
	binary.BigEndian.PutUint64(ts[:], uint64(s.ExpiresAt))
	buf.Write(ts[:])

	buf.WriteByte(byte(len(s.IdentityID)))
	buf.WriteString(s.IdentityID)
	buf.WriteByte(byte(len(s.TenantID)))
	buf.WriteString(s.TenantID)

	buf.WriteByte(byte(len(s.IP)))
	buf.WriteString(s.IP)
	var ual [2]byte
	binary.BigEndian.PutUint16(ual[:], uint16(len(s.UserAgent)))
	buf.Write(ual[:])
	buf.WriteString(s.UserAgent)

	return buf.Bytes(), nil
}

func Decode(data []byte) (*Session, error) {
	if len(data) == 0 {
		return nil, errors.New("empty session blob")
	}
	version := data[0]
	if version != CurrentSchemaVersion && version != schemaVersionV1 {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}
	if len(data) < headerLen {
		return nil, errors.New("session blob truncated")
	}

	s := &Session{SchemaVersion: version}
	copy(s.RefreshHash[:], data[refreshHashOff:refreshHashOff+32])
	copy(s.Fingerprint[:], data[fingerprintOff:fingerprintOff+32])
	s.CreatedAt = int64(binary.BigEndian.Uint64(data[createdAtOff : createdAtOff+8]))
	s.LastSeenAt = int64(binary.BigEndian.Uint64(data[lastSeenAtOff : lastSeenAtOff+8]))
	s.ExpiresAt = int64(binary.BigEndian.Uint64(data[expiresAtOff : expiresAtOff+8]))

	reader := bytes.NewReader(data[headerLen:])

	identity, err := readShortString(reader)
	if err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, errors.New("session blob missing identity")
	}
	s.IdentityID = identity

	tenant, err := readShortString(reader)
	if err != nil {
		return nil, err
	}
	s.TenantID = tenant

	if version == schemaVersionV1 {
		return s, nil
	}

	ip, err := readShortString(reader)
	if err != nil {
		return nil, err
	}
	s.IP = ip

	var ual [2]byte
	if _, err := io.ReadFull(reader, ual[:]); err != nil {
		return nil, err
	}
	uaLen := binary.BigEndian.Uint16(ual[:])
	if uaLen > maxUserAgentLen {
		return nil, errors.New("user agent length out of range")
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(reader, ua); err != nil {
		return nil, err
	}
	s.UserAgent = string(ua)

	return s, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
