package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// CurrentSchemaVersion is written as the first byte of every encoded record.
const CurrentSchemaVersion = 1

var ErrUnsupportedSchema = errors.New("unsupported session schema version")

func Encode(r *Record) ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil record")
	}

	var buf bytes.Buffer
	buf.Grow(96 + len(r.UserID) + len(r.Email) + len(r.Provider) + len(r.FullName))
	buf.WriteByte(CurrentSchemaVersion)

	for _, f := range []struct {
		name  string
		value string
	}{
		{"userID", r.UserID},
		{"email", r.Email},
		{"provider", r.Provider},
		{"fullName", r.FullName},
	} {
		if len(f.value) > 255 {
			return nil, fmt.Errorf("%s too long", f.name)
		}
		buf.WriteByte(byte(len(f.value)))
		buf.WriteString(f.value)
	}

	buf.Write(r.RefreshHash[:])

	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, version)
	}

	r := &Record{}
	for _, dst := range []*string{&r.UserID, &r.Email, &r.Provider, &r.FullName} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}

	if _, err := io.ReadFull(reader, r.RefreshHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session record")
	}

	return r, nil
}

func readString(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
