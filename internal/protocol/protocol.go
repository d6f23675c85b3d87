package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Wire constants
const (
	// SelectionSize is the exact size of a Selection datagram
	// Layout: [ItemID:4][Cursor:4], big-endian
	SelectionSize = 8

	// MaxFragmentSize is the largest fragment datagram, terminator included
	MaxFragmentSize = 100

	// MaxFragmentText is the longest fragment text that fits in one datagram
	MaxFragmentText = MaxFragmentSize - 1

	fragmentTerminator = 0x00
)

var (
	// ErrInvalidSelectionSize is returned for datagrams that are not exactly SelectionSize bytes
	ErrInvalidSelectionSize = errors.New("invalid selection size")

	// ErrFragmentTooLong is returned when a fragment does not fit in MaxFragmentSize
	ErrFragmentTooLong = errors.New("fragment too long")

	// ErrInvalidFragment is returned for fragments that are not valid UTF-8 or embed a NUL byte
	ErrInvalidFragment = errors.New("invalid fragment")
)

// Selection is the request a client sends to pick a catalog item
type Selection struct {
	ItemID uint32 // 1-based catalog item id
	Cursor uint32 // Reserved, always 0 for current clients
}

// ParseSelection decodes a Selection datagram
func ParseSelection(data []byte) (Selection, error) {
	if len(data) != SelectionSize {
		return Selection{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSelectionSize, SelectionSize, len(data))
	}

	return Selection{
		ItemID: binary.BigEndian.Uint32(data[0:4]),
		Cursor: binary.BigEndian.Uint32(data[4:8]),
	}, nil
}

// Encode returns the wire representation of the selection
func (s Selection) Encode() []byte {
	buf := make([]byte, SelectionSize)
	binary.BigEndian.PutUint32(buf[0:4], s.ItemID)
	binary.BigEndian.PutUint32(buf[4:8], s.Cursor)
	return buf
}

// String returns a human-readable representation of the selection
func (s Selection) String() string {
	return fmt.Sprintf("Selection{ItemID:%d, Cursor:%d}", s.ItemID, s.Cursor)
}

// ValidateFragment checks that text can be carried by a single fragment datagram
func ValidateFragment(text string) error {
	if len(text) > MaxFragmentText {
		return fmt.Errorf("%w: %d bytes (maximum %d)", ErrFragmentTooLong, len(text), MaxFragmentText)
	}

	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidFragment)
	}

	for i := 0; i < len(text); i++ {
		if text[i] == fragmentTerminator {
			return fmt.Errorf("%w: NUL byte at offset %d", ErrInvalidFragment, i)
		}
	}

	return nil
}

// EncodeFragment returns the NUL-terminated datagram for a fragment
func EncodeFragment(text string) ([]byte, error) {
	if err := ValidateFragment(text); err != nil {
		return nil, err
	}

	buf := make([]byte, len(text)+1)
	copy(buf, text)
	buf[len(text)] = fragmentTerminator
	return buf, nil
}

// DecodeFragment extracts the fragment text from a datagram.
// Text ends at the first NUL byte or at the end of the datagram.
func DecodeFragment(data []byte) string {
	return ExtractString(data)
}

// ExtractString extracts a null-terminated string from a byte slice
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == fragmentTerminator {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}
