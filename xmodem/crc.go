package xmodem

// Checksum returns the arithmetic sum of buf modulo 256.
func Checksum(buf []byte) byte {
	var sum byte
	for _, b := range buf {
		sum += b
	}
	return sum
}

// CRC16 returns the XMODEM CRC (polynomial 0x1021, initial value 0) of buf.
func CRC16(buf []byte) uint16 {
	var crc uint16
	for _, b := range buf {
		crc = updcrc16(crc, b)
	}
	return crc
}

// updcrc16 folds one byte into crc using four shift/xor steps instead of a
// lookup table.
func updcrc16(crc uint16, b byte) uint16 {
	crc = crc>>8 | crc<<8
	crc ^= uint16(b)
	crc ^= (crc & 0xFF) >> 4
	crc ^= crc << 12
	crc ^= (crc & 0xFF) << 5
	return crc
}
