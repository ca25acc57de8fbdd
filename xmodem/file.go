package xmodem

import (
	"bytes"
	"fmt"
	"strconv"
)

// FileInfo describes the file carried by a transfer.
type FileInfo struct {
	// Name is the file name from the file-begin packet
	Name string

	// Length is the announced total length in bytes
	Length int64

	// Written counts payload bytes delivered or sent so far
	Written int64
}

// maxLengthDigits bounds the decimal length field of a file-begin packet.
const maxLengthDigits = 16

// BuildFileHeader builds the payload of a file-begin packet:
// the file name, a NUL, the decimal length and a space.
func BuildFileHeader(name string, length int64) ([]byte, error) {
	if name == "" {
		return nil, NewError(ErrInvalidArg, "empty file name")
	}
	if bytes.IndexByte([]byte(name), 0) >= 0 {
		return nil, NewError(ErrInvalidArg, "file name contains NUL")
	}
	if length < 0 {
		return nil, NewError(ErrInvalidArg, fmt.Sprintf("negative file length %d", length))
	}

	header := make([]byte, 0, DataLen)
	header = append(header, name...)
	header = append(header, 0)
	header = strconv.AppendInt(header, length, 10)
	header = append(header, ' ')
	if len(header) > DataLen {
		return nil, NewError(ErrInvalidArg, fmt.Sprintf("file header of %d bytes exceeds %d", len(header), DataLen))
	}
	return header, nil
}

// ParseFileHeader parses the payload of a file-begin packet. The length is
// read as leading decimal digits; anything after them (a space, a YMODEM
// modification time) is ignored. A missing length parses as 0.
func ParseFileHeader(data []byte) (name string, length int64, err error) {
	nul := bytes.IndexByte(data, 0)
	if nul < 0 {
		return "", 0, NewError(ErrDataRecv, "file header has no NUL terminator")
	}
	name = string(data[:nul])

	digits := data[nul+1:]
	end := 0
	for end < len(digits) && end < maxLengthDigits && digits[end] >= '0' && digits[end] <= '9' {
		end++
	}
	if end == 0 {
		return name, 0, nil
	}
	length, err = strconv.ParseInt(string(digits[:end]), 10, 64)
	if err != nil {
		return name, 0, WrapError(ErrDataRecv, "bad file length", err)
	}
	return name, length, nil
}
