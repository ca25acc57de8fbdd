// Package xmodem implements the XMODEM file transfer protocol with the
// 1K-block and file-header extensions used by YMODEM-style receivers.
//
// A Session drives one side of a transfer (sender or receiver) over a
// Transport. Senders push a file-begin packet, 128 or 1024 byte data packets
// and close the transfer with an EOT handshake; receivers validate every
// packet and hand the payload to a callback. The package is designed as a
// library: transports for serial ports, SSH sessions, MQTT topics and plain
// byte streams are provided, and the embedding application observes progress
// through callbacks.
package xmodem

// Control characters exchanged on the wire
const (
	// SOH starts a packet with a 128-byte payload
	SOH = 0x01

	// STX starts a packet with a 1024-byte payload
	STX = 0x02

	// EOT ends the transmission
	EOT = 0x04

	// ACK acknowledges a packet
	ACK = 0x06

	// NAK rejects a packet, or requests checksum mode during negotiation
	NAK = 0x15

	// CAN cancels the transfer
	CAN = 0x18

	// CRC16Request requests CRC16 mode during negotiation
	CRC16Request = 'C'

	// CPMEOF pads the unused payload tail in file mode
	CPMEOF = 0x1A
)

// Packet geometry
const (
	HeadLen      = 3
	DataLen      = 128
	DataLen1K    = 1024
	MaxPacketLen = HeadLen + DataLen1K + 2
)

// Role selects which side of the transfer a session drives.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// CRCType selects the packet trailer.
type CRCType int

const (
	// CRCTypeCRC16 uses a 2-byte CRC16 trailer (receiver sends 'C')
	CRCTypeCRC16 CRCType = iota

	// CRCTypeChecksum uses a 1-byte arithmetic checksum trailer (receiver sends NAK)
	CRCTypeChecksum
)

// Len returns the trailer length in bytes.
func (c CRCType) Len() int {
	if c == CRCTypeChecksum {
		return 1
	}
	return 2
}

func (c CRCType) String() string {
	if c == CRCTypeChecksum {
		return "checksum"
	}
	return "crc16"
}

// State is the session state.
type State int

const (
	StateUninit State = iota
	StateInit
	StateConnecting
	StateConnected
	StateSenderSendEOT
	StateReceiverReceiveEOT
	StateFinish
)

var stateNames = []string{
	"UNINIT",
	"INIT",
	"CONNECTING",
	"CONNECTED",
	"SENDER_SEND_EOT",
	"RECEIVER_RECEIVE_EOT",
	"FINISH",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// PacketSizing selects how a sender with 1K support picks packet sizes.
type PacketSizing int

const (
	// SizeByThreshold sends a 1024-byte packet whenever more than 128 bytes
	// remain, padding the last packet. 2000 bytes go out as two 1024-byte
	// packets, the second carrying 976 bytes of data.
	SizeByThreshold PacketSizing = iota

	// SizeLargestFit sends a 1024-byte packet only while a full 1024 bytes
	// remain and finishes with 128-byte packets, so less padding goes on the
	// wire at the cost of more packets. 2000 bytes go out as one 1024-byte
	// packet and eight 128-byte packets.
	SizeLargestFit
)
