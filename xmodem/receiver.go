package xmodem

import (
	"context"
	"fmt"
)

// requestMode asks the sender for packets: 'C' for CRC16, NAK for checksum.
func (s *Session) requestMode() error {
	c := byte(CRC16Request)
	if s.config.CRCType == CRCTypeChecksum {
		c = NAK
	}
	return s.sendControl(c, EventInit, nil)
}

// receiveLoop requests a transfer until the sender answers, then receives
// packets until the transfer finishes or fails.
func (s *Session) receiveLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for i := 0; i < s.config.CycleMaxRetry; i++ {
		if err := s.requestMode(); err != nil {
			s.fail(WrapError(ErrTransport, "request transfer", err))
			return
		}

		c, err := s.transport.ReadByte(ctx, s.config.CycleTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if IsTimeout(err) {
				s.logger.Info("waiting for xmodem sender (%d/%d)", i+1, s.config.CycleMaxRetry)
				continue
			}
			s.fail(asError(ErrTransport, "wait for sender", err))
			return
		}

		s.setState(StateConnected)
		s.logger.Info("xmodem sender connected")
		s.dispatch(EventConnected)
		s.receivePackets(ctx, c)
		return
	}

	s.fail(NewError(ErrNoSender, fmt.Sprintf("no sender after %d attempts", s.config.CycleMaxRetry)))
}

// receivePackets handles packets starting with header byte c. MaxRetry
// consecutive rejected packets, or MaxRetry silent reads, cancel the
// transfer with exactly one EventError.
func (s *Session) receivePackets(ctx context.Context, c byte) {
	failures := 0
	for {
		var (
			fatal bool
			err   error
		)
		pkt, rerr := s.readPacket(ctx, c)
		switch {
		case rerr == nil:
			fatal, err = s.processPacket(pkt)
		case ctx.Err() != nil:
			return
		case IsTimeout(rerr):
			err = NewError(ErrDataRecv, fmt.Sprintf("incomplete packet after 0x%02x", c))
			_ = s.transport.Flush()
			_ = s.sendControl(NAK, EventInit, err)
		default:
			_ = s.sendControl(CAN, EventError, asError(ErrDataRecv, "read packet", rerr))
			return
		}
		if fatal {
			return
		}

		if err != nil {
			failures++
			s.logger.Info("packet rejected (%d/%d): %v", failures, s.config.MaxRetry, err)
			if failures >= s.config.MaxRetry {
				e := NewError(ErrMaxRetry, fmt.Sprintf("%d consecutive packets rejected", failures))
				_ = s.sendControl(CAN, EventError, e)
				return
			}
		} else {
			failures = 0
			if s.State() == StateFinish {
				return
			}
		}

		if c, err = s.nextHeader(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			_ = s.sendControl(CAN, EventError, err)
			return
		}
	}
}

// nextHeader waits for the first byte of the next packet.
func (s *Session) nextHeader(ctx context.Context) (byte, error) {
	for i := 0; i < s.config.MaxRetry; i++ {
		c, err := s.transport.ReadByte(ctx, s.config.Timeout)
		if err == nil {
			return c, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if !IsTimeout(err) {
			return 0, asError(ErrTransport, "wait for packet", err)
		}
	}
	return 0, NewError(ErrMaxRetry, fmt.Sprintf("no packet from sender after %d attempts", s.config.MaxRetry))
}

// readPacket reads the rest of the packet announced by head and passes it
// through the OnReceiveData hook. Control bytes are returned as one-byte
// packets.
func (s *Session) readPacket(ctx context.Context, head byte) ([]byte, error) {
	s.buf[0] = head
	n := 1
	if size := PacketLen(head, s.config.CRCType); size > 0 {
		if _, err := s.transport.ReadFull(ctx, s.buf[1:size], s.config.Timeout); err != nil {
			return nil, err
		}
		n = size
	}
	pkt := s.buf[:n]

	hook := s.callbacks.OnReceiveData
	if hook == nil {
		return pkt, nil
	}
	out, err := hook(pkt)
	if err != nil {
		return nil, WrapError(ErrDataRecv, "receive hook", err)
	}
	if len(out) < n || out[0] != head {
		return nil, NewError(ErrDataRecv, "receive hook changed packet framing")
	}
	return out, nil
}

// reject NAKs the current packet and returns err.
func (s *Session) reject(err error) (bool, error) {
	s.logger.Debug("%v", err)
	_ = s.sendControl(NAK, EventInit, err)
	return false, err
}

// processPacket acts on one complete packet. It reports whether the transfer
// ended with a fatal error, and the rejection reason, if any.
func (s *Session) processPacket(pkt []byte) (bool, error) {
	switch pkt[0] {
	case SOH, STX:
	case EOT:
		s.handleEOT()
		return false, nil
	case CAN:
		s.fail(NewError(ErrCancelled, "sender cancelled the transfer"))
		return true, nil
	default:
		err := NewError(ErrDataRecv, fmt.Sprintf("unexpected header byte 0x%02x", pkt[0]))
		_ = s.transport.Flush()
		return s.reject(err)
	}

	seq := pkt[1]
	s.mu.Lock()
	expected := s.seq
	fileMode := s.isFileData
	state := s.state
	s.mu.Unlock()

	if !sequenceValid(pkt) {
		return s.reject(NewError(ErrSequence, fmt.Sprintf("sequence 0x%02x does not match complement 0x%02x", seq, pkt[2])))
	}

	switch {
	case expected == 0 && seq == 0:
		return s.handleFileBegin(pkt)
	case expected == 0:
		// Plain XMODEM: the first packet is sequence 1.
		expected = 1
		s.setSeq(1)
	case fileMode && state == StateReceiverReceiveEOT && seq == 0 && pkt[0] == SOH && pkt[HeadLen] == 0:
		if !trailerValid(pkt, s.config.CRCType) {
			return s.reject(NewError(ErrCRC, fmt.Sprintf("%s mismatch in end-of-batch packet", s.config.CRCType)))
		}
		s.finishReceive()
		return false, nil
	}

	if seq != byte(expected) {
		if seq == byte(expected-1) {
			// The sender missed our ACK and retransmitted.
			s.logger.Debug("duplicate packet %d", seq)
			_ = s.sendControl(ACK, EventInit, nil)
			return false, nil
		}
		return s.reject(NewError(ErrSequence, fmt.Sprintf("got packet %d, want %d", seq, byte(expected))))
	}
	if !trailerValid(pkt, s.config.CRCType) {
		return s.reject(NewError(ErrCRC, fmt.Sprintf("%s mismatch in packet %d", s.config.CRCType, seq)))
	}

	size, _ := payloadLen(pkt[0])
	data := pkt[HeadLen : HeadLen+size]
	if fileMode {
		file := s.File()
		remaining := max(file.Length-file.Written, 0)
		if int64(len(data)) > remaining {
			data = data[:remaining]
		}
	}
	if len(data) > 0 {
		if err := s.callbacks.OnReceive(data); err != nil {
			e := WrapError(ErrDataRecv, "deliver payload", err)
			s.logger.Error("%v", e)
			_ = s.sendControl(CAN, EventError, e)
			return true, e
		}
	}

	s.mu.Lock()
	s.seq++
	s.file.Written += int64(len(data))
	s.err = nil
	written := s.file.Written
	s.mu.Unlock()
	s.progress.Update(written)

	_ = s.sendControl(ACK, EventInit, nil)
	return false, nil
}

// handleFileBegin parses the file packet, announces the file and asks for
// its data.
func (s *Session) handleFileBegin(pkt []byte) (bool, error) {
	if !trailerValid(pkt, s.config.CRCType) {
		return s.reject(NewError(ErrCRC, fmt.Sprintf("%s mismatch in file packet", s.config.CRCType)))
	}
	size, _ := payloadLen(pkt[0])
	name, length, err := ParseFileHeader(pkt[HeadLen : HeadLen+size])
	if err != nil {
		return s.reject(err)
	}

	s.mu.Lock()
	s.file = FileInfo{Name: name, Length: length}
	s.isFileData = true
	s.seq = 1
	s.err = nil
	s.mu.Unlock()

	s.logger.Info("receiving %s (%d bytes)", name, length)
	s.progress.Start(name, length)
	s.dispatch(EventOnFile)
	_ = s.sendControl(ACK, EventInit, nil)
	_ = s.requestMode()
	return false, nil
}

// handleEOT ends a plain transfer. In file mode the first EOT is NAKed and
// the second ACKed, after which the end-of-batch packet is requested.
func (s *Session) handleEOT() {
	s.mu.Lock()
	state := s.state
	fileMode := s.isFileData
	s.mu.Unlock()

	switch {
	case !fileMode:
		s.finishReceive()
	case state == StateReceiverReceiveEOT:
		_ = s.sendControl(ACK, EventInit, nil)
		_ = s.requestMode()
	default:
		s.setState(StateReceiverReceiveEOT)
		_ = s.sendControl(NAK, EventInit, nil)
	}
}

func (s *Session) finishReceive() {
	s.mu.Lock()
	s.state = StateFinish
	s.err = nil
	s.mu.Unlock()

	s.progress.Complete()
	s.logger.Info("xmodem transfer finished")
	_ = s.sendControl(ACK, EventFinished, nil)
}
