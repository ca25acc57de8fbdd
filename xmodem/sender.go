package xmodem

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// sendChunkSize is how much SendFile reads from its source per Send call.
const sendChunkSize = 8 * DataLen1K

// connectLoop waits for the receiver's mode request. 'C' selects CRC16 and
// NAK selects the additive checksum.
func (s *Session) connectLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for i := 0; i < s.config.CycleMaxRetry; i++ {
		c, err := s.transport.ReadByte(ctx, s.config.CycleTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if IsTimeout(err) {
				s.logger.Info("connecting to xmodem receiver (%d/%d)", i+1, s.config.CycleMaxRetry)
				continue
			}
			s.fail(asError(ErrTransport, "wait for receiver", err))
			return
		}

		switch c {
		case CRC16Request, NAK:
			crc := CRCTypeCRC16
			if c == NAK {
				crc = CRCTypeChecksum
			}
			s.mu.Lock()
			s.crcType = crc
			s.seq = 1
			s.state = StateConnected
			s.err = nil
			s.mu.Unlock()

			// Drop the receiver's repeated requests.
			_ = s.transport.Flush()
			s.logger.Info("xmodem receiver connected, using %s", crc)
			s.dispatch(EventConnected)
			return
		default:
			s.logger.Error("received 0x%02x, only 'C' or NAK start a transfer", c)
			s.setErr(NewError(ErrCRCNotSupported, fmt.Sprintf("unsupported mode request 0x%02x", c)))
			_ = s.transport.Flush()
		}
	}

	s.fail(NewError(ErrNoReceiver, fmt.Sprintf("no receiver after %d attempts", s.config.CycleMaxRetry)))
}

// checkSender verifies the session is a sender in the given state.
func (s *Session) checkSender(want State) error {
	if s.config.Role != RoleSender {
		return NewError(ErrInvalidArg, "operation requires a sender session")
	}
	if state := s.State(); state != want {
		return NewError(ErrState, fmt.Sprintf("sender state is %s, want %s", state, want))
	}
	return nil
}

// sendPacket transmits pkt until the receiver acknowledges it or MaxRetry
// attempts are used up. Every fatal outcome cancels the peer with CAN and
// raises EventError. A file packet's ACK is followed by a fresh mode
// request, which is consumed here.
func (s *Session) sendPacket(pkt []byte, isFile bool) error {
	ctx := s.runContext()

	for i := 0; i < s.config.MaxRetry; i++ {
		if err := s.writePacket(pkt); err != nil {
			_ = s.sendControl(CAN, EventError, err)
			return err
		}

		c, err := s.transport.ReadByte(ctx, s.config.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if IsTimeout(err) {
				s.logger.Info("packet %d: no response (%d/%d)", pkt[1], i+1, s.config.MaxRetry)
				continue
			}
			e := asError(ErrTransport, "wait for response", err)
			_ = s.sendControl(CAN, EventError, e)
			return e
		}

		switch {
		case c == ACK && isFile:
			next, err := s.transport.ReadByte(ctx, s.config.Timeout)
			if err == nil && next == CAN {
				e := NewError(ErrCancelled, "receiver cancelled after file packet")
				_ = s.sendControl(ACK, EventError, e)
				return e
			}
			return nil
		case c == ACK:
			return nil
		case c == NAK, c == CRC16Request && isFile:
			s.logger.Info("packet %d: %s (%d/%d)", pkt[1], controlName(c), i+1, s.config.MaxRetry)
			continue
		case c == CAN:
			e := NewError(ErrCancelled, "receiver cancelled the transfer")
			_ = s.sendControl(ACK, EventError, e)
			return e
		default:
			e := NewError(ErrDataRecv, fmt.Sprintf("packet %d: unexpected response 0x%02x", pkt[1], c))
			_ = s.sendControl(CAN, EventError, e)
			return e
		}
	}

	e := NewError(ErrMaxRetry, fmt.Sprintf("packet %d not acknowledged after %d attempts", pkt[1], s.config.MaxRetry))
	_ = s.sendControl(CAN, EventError, e)
	return e
}

// SendFilePacket sends the YMODEM-style file packet with sequence 0.
//
// With a name it announces a file: the session must be CONNECTED and
// subsequent data packets are padded with CPMEOF. With an empty name it
// sends the all-zero end-of-batch packet, which is only valid once the
// receiver acknowledged EOT. A session announces at most one file until it
// is stopped or restarted.
func (s *Session) SendFilePacket(name string, length int64) error {
	want := StateConnected
	if name == "" {
		want = StateSenderSendEOT
	}
	if err := s.checkSender(want); err != nil {
		return err
	}

	var header []byte
	if name != "" {
		var err error
		if header, err = BuildFileHeader(name, length); err != nil {
			return err
		}
		s.mu.Lock()
		if s.isFileData {
			current := s.file.Name
			s.mu.Unlock()
			return NewError(ErrState, fmt.Sprintf("file %q already announced", current))
		}
		s.isFileData = true
		s.file = FileInfo{Name: name, Length: length}
		s.mu.Unlock()
		s.progress.Start(name, length)
	}

	n := encodePacket(s.buf, SOH, 0, header, 0x00, s.CRCType())
	if err := s.sendPacket(s.buf[:n], true); err != nil {
		s.setSeq(0)
		return err
	}
	s.setSeq(1)
	return nil
}

func (s *Session) setSeq(seq uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = seq
}

// packetHead picks SOH or STX for the remaining payload.
func (s *Session) packetHead(remaining int) byte {
	if !s.config.Support1K {
		return SOH
	}
	if s.config.PacketSizing == SizeLargestFit {
		if remaining >= DataLen1K {
			return STX
		}
		return SOH
	}
	if remaining > DataLen {
		return STX
	}
	return SOH
}

// Send splits data into packets and sends them in order. The last packet is
// padded with CPMEOF in file mode and with zeros otherwise. On failure the
// sequence restarts at 1.
func (s *Session) Send(data []byte) error {
	if err := s.checkSender(StateConnected); err != nil {
		return err
	}

	s.mu.Lock()
	pad := byte(0x00)
	if s.isFileData {
		pad = CPMEOF
	}
	crc := s.crcType
	s.mu.Unlock()

	for len(data) > 0 {
		head := s.packetHead(len(data))
		size, _ := payloadLen(head)
		chunk := data
		if len(chunk) > size {
			chunk = chunk[:size]
		}

		s.mu.Lock()
		seq := byte(s.seq)
		s.mu.Unlock()

		n := encodePacket(s.buf, head, seq, chunk, pad, crc)
		if err := s.sendPacket(s.buf[:n], false); err != nil {
			s.setSeq(1)
			return err
		}

		s.mu.Lock()
		s.seq++
		s.file.Written += int64(len(chunk))
		written := s.file.Written
		s.mu.Unlock()
		s.progress.Update(written)

		data = data[len(chunk):]
	}
	return nil
}

// SendCancel sends CAN to the receiver.
func (s *Session) SendCancel() error {
	if err := s.checkSender(StateConnected); err != nil {
		return err
	}
	return s.sendControl(CAN, EventInit, nil)
}

// SendEOT ends the transfer. A plain receiver ACKs the EOT. In file mode the
// receiver NAKs the first EOT, ACKs the second and then requests the
// end-of-batch packet, which is sent here before the session moves to FINISH.
func (s *Session) SendEOT() error {
	if err := s.checkSender(StateConnected); err != nil {
		return err
	}
	ctx := s.runContext()

	for i := 0; i < s.config.MaxRetry; i++ {
		acked := s.State() == StateSenderSendEOT
		if !acked {
			if err := s.sendControl(EOT, EventInit, nil); err != nil {
				e := WrapError(ErrDataSend, "write EOT", err)
				s.fail(e)
				return e
			}
		}

		c, err := s.transport.ReadByte(ctx, s.config.CycleTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !IsTimeout(err) {
				e := asError(ErrTransport, "wait for EOT response", err)
				s.fail(e)
				return e
			}
			if acked {
				// The receiver did not ask for the end-of-batch packet.
				return s.finishSend()
			}
			continue
		}

		if c == CAN {
			e := NewError(ErrCancelled, "receiver cancelled the transfer")
			_ = s.sendControl(ACK, EventError, e)
			return e
		}
		if !acked {
			if c != ACK {
				continue
			}
			s.mu.Lock()
			fileMode := s.isFileData
			s.mu.Unlock()
			if !fileMode {
				return s.finishSend()
			}
			s.setState(StateSenderSendEOT)
			continue
		}

		switch c {
		case CRC16Request:
			s.setCRCType(CRCTypeCRC16)
		case NAK:
			s.setCRCType(CRCTypeChecksum)
		default:
			return s.finishSend()
		}
		if err := s.SendFilePacket("", 0); err != nil {
			return err
		}
		return s.finishSend()
	}

	e := NewError(ErrMaxRetry, fmt.Sprintf("EOT not acknowledged after %d attempts", s.config.MaxRetry))
	_ = s.sendControl(CAN, EventError, e)
	return e
}

func (s *Session) setCRCType(crc CRCType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crcType = crc
}

func (s *Session) finishSend() error {
	s.mu.Lock()
	s.state = StateFinish
	s.err = nil
	s.mu.Unlock()

	s.progress.Complete()
	s.logger.Info("xmodem transfer finished")
	s.dispatch(EventFinished)
	return nil
}

// SendFile runs a complete transfer of size bytes from r. It starts the
// session if needed and waits for the receiver. A non-empty name announces
// the file first; an empty name sends plain XMODEM. A negative size sends
// until r is exhausted and is only valid without a name.
func (s *Session) SendFile(ctx context.Context, name string, r io.Reader, size int64) error {
	if r == nil {
		return NewError(ErrInvalidArg, "reader is nil")
	}
	if name != "" && size < 0 {
		return NewError(ErrInvalidArg, "file mode requires a known size")
	}
	if s.State() == StateInit {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	if err := s.WaitConnected(ctx); err != nil {
		return err
	}

	if name != "" {
		if err := s.SendFilePacket(name, size); err != nil {
			return err
		}
	} else {
		s.progress.Start("", max(size, 0))
	}

	src := r
	if size >= 0 {
		src = io.LimitReader(r, size)
	}

	buf := make([]byte, sendChunkSize)
	var sent int64
	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if serr := s.Send(buf[:n]); serr != nil {
				return serr
			}
			sent += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			e := WrapError(ErrDataSend, "read source", err)
			_ = s.sendControl(CAN, EventError, e)
			return e
		}
	}

	if name != "" && sent != size {
		e := NewError(ErrDataSend, fmt.Sprintf("source ended after %d of %d bytes", sent, size))
		_ = s.sendControl(CAN, EventError, e)
		return e
	}
	return s.SendEOT()
}

// WaitConnected blocks until a sender's connect worker exits and reports
// whether the receiver answered.
func (s *Session) WaitConnected(ctx context.Context) error {
	if err := s.Wait(ctx); err != nil {
		return err
	}
	if state := s.State(); state != StateConnected {
		return NewError(ErrState, fmt.Sprintf("sender state is %s after connect", state))
	}
	return nil
}
