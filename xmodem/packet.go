package xmodem

import "fmt"

// Packet is a decoded XMODEM data packet.
//
// Wire layout:
//
//	[SOH|STX] seq ^seq payload(128|1024) trailer(1 checksum | 2 CRC16, big-endian)
type Packet struct {
	Head byte
	Seq  byte
	Data []byte
}

// payloadLen returns the payload size announced by a header byte.
func payloadLen(head byte) (int, bool) {
	switch head {
	case SOH:
		return DataLen, true
	case STX:
		return DataLen1K, true
	default:
		return 0, false
	}
}

// PacketLen returns the full on-wire length of a packet starting with head.
// It returns 0 for bytes that do not start a data packet.
func PacketLen(head byte, crc CRCType) int {
	n, ok := payloadLen(head)
	if !ok {
		return 0
	}
	return HeadLen + n + crc.Len()
}

// encodePacket writes a packet into dst and returns its length. The payload
// region is filled with pad before data is copied in, so short data leaves a
// padded tail. dst must hold MaxPacketLen bytes.
func encodePacket(dst []byte, head, seq byte, data []byte, pad byte, crc CRCType) int {
	n, _ := payloadLen(head)
	dst[0] = head
	dst[1] = seq
	dst[2] = ^seq

	payload := dst[HeadLen : HeadLen+n]
	for i := range payload {
		payload[i] = pad
	}
	copy(payload, data)

	end := HeadLen + n
	if crc == CRCTypeChecksum {
		dst[end] = Checksum(payload)
		return end + 1
	}
	sum := CRC16(payload)
	dst[end] = byte(sum >> 8)
	dst[end+1] = byte(sum)
	return end + 2
}

// Encode appends the wire form of p to dst. Data longer than the payload
// region selected by Head is rejected; shorter data is padded with pad.
func (p *Packet) Encode(dst []byte, pad byte, crc CRCType) ([]byte, error) {
	n, ok := payloadLen(p.Head)
	if !ok {
		return dst, NewError(ErrInvalidArg, fmt.Sprintf("invalid packet head 0x%02x", p.Head))
	}
	if len(p.Data) > n {
		return dst, NewError(ErrInvalidArg, fmt.Sprintf("payload of %d bytes exceeds %d", len(p.Data), n))
	}
	var buf [MaxPacketLen]byte
	size := encodePacket(buf[:], p.Head, p.Seq, p.Data, pad, crc)
	return append(dst, buf[:size]...), nil
}

// sequenceValid reports whether the sequence byte matches its complement.
func sequenceValid(pkt []byte) bool {
	return pkt[1] == ^pkt[2]
}

// trailerValid verifies the checksum or CRC16 of a complete packet.
func trailerValid(pkt []byte, crc CRCType) bool {
	n, _ := payloadLen(pkt[0])
	payload := pkt[HeadLen : HeadLen+n]
	end := HeadLen + n
	if crc == CRCTypeChecksum {
		return Checksum(payload) == pkt[end]
	}
	return CRC16(payload) == uint16(pkt[end])<<8|uint16(pkt[end+1])
}

// DecodePacket validates a complete packet and returns a view over its
// payload. The returned Data aliases buf.
func DecodePacket(buf []byte, crc CRCType) (*Packet, error) {
	if len(buf) == 0 {
		return nil, NewError(ErrDataRecv, "empty packet")
	}
	size := PacketLen(buf[0], crc)
	if size == 0 {
		return nil, NewError(ErrDataRecv, fmt.Sprintf("unexpected header byte 0x%02x", buf[0]))
	}
	if len(buf) < size {
		return nil, NewError(ErrDataRecv, fmt.Sprintf("short packet: %d of %d bytes", len(buf), size))
	}
	if !sequenceValid(buf) {
		return nil, NewError(ErrSequence, fmt.Sprintf("sequence 0x%02x does not match complement 0x%02x", buf[1], buf[2]))
	}
	if !trailerValid(buf[:size], crc) {
		return nil, NewError(ErrCRC, fmt.Sprintf("%s mismatch in packet %d", crc, buf[1]))
	}
	return &Packet{
		Head: buf[0],
		Seq:  buf[1],
		Data: buf[HeadLen : size-crc.Len()],
	}, nil
}
