// Package transport implements the fuzzer's byte protocol over a unix stream socket.
//
// Inbound frames begin with a type byte. A state frame (0) carries a little-endian uint32
// count followed by that many little-endian float32s; a reward frame (1) carries a single
// float32. Outbound frames are the action vector as little-endian int32s with no header.
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Kind identifies an inbound frame.
type Kind byte

const (
	KindState  Kind = 0
	KindReward Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindReward:
		return "reward"
	}
	return fmt.Sprintf("unknown(%d)", byte(k))
}

// MaxStateCount bounds the element count of a state frame; larger headers are treated as corrupt.
const MaxStateCount = 1 << 20

// ErrDisconnect is returned when the peer closed the connection, sent a short frame, or sent a
// frame type this side does not understand. The caller should stop reading.
var ErrDisconnect = errors.New("peer disconnected")

// Message is a decoded inbound frame; State is set for KindState, Reward for KindReward.
type Message struct {
	Kind   Kind
	State  []float32
	Reward float32
}

// Decoder reads frames from a stream, accumulating partial reads until a frame is complete.
type Decoder struct {
	rd  *bufio.Reader
	buf [4]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{rd: bufio.NewReader(r)}
}

// ReadMessage blocks until a full frame is read. Every failure wraps ErrDisconnect.
func (dec *Decoder) ReadMessage() (msg Message, err error) {
	var kind byte
	if kind, err = dec.rd.ReadByte(); err != nil {
		return msg, disconnect(err)
	}

	msg.Kind = Kind(kind)
	switch msg.Kind {
	case KindState:
		var count uint32
		if count, err = dec.readUint32(); err != nil {
			return msg, disconnect(err)
		}
		if count > MaxStateCount {
			return msg, fmt.Errorf("%w: state count %d exceeds %d", ErrDisconnect, count, MaxStateCount)
		}
		msg.State = make([]float32, count)
		for i := range msg.State {
			var bits uint32
			if bits, err = dec.readUint32(); err != nil {
				return Message{}, disconnect(err)
			}
			msg.State[i] = math.Float32frombits(bits)
		}
	case KindReward:
		var bits uint32
		if bits, err = dec.readUint32(); err != nil {
			return msg, disconnect(err)
		}
		msg.Reward = math.Float32frombits(bits)
	default:
		return msg, fmt.Errorf("%w: unknown frame type %s", ErrDisconnect, msg.Kind)
	}
	return msg, nil
}

func (dec *Decoder) readUint32() (uint32, error) {
	if _, err := io.ReadFull(dec.rd, dec.buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(dec.buf[:]), nil
}

func disconnect(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrDisconnect
	}
	return fmt.Errorf("%w: %v", ErrDisconnect, err)
}

// WriteAction sends the action vector as a single write.
func WriteAction(w io.Writer, actions []int) error {
	frame := make([]byte, 4*len(actions))
	for i, action := range actions {
		binary.LittleEndian.PutUint32(frame[4*i:], uint32(int32(action)))
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write action: %w", err)
	}
	return nil
}

// ReadAction reads an action vector of n values, the fuzzer's side of WriteAction.
func ReadAction(r io.Reader, n int) ([]int, error) {
	frame := make([]byte, 4*n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, disconnect(err)
	}
	actions := make([]int, n)
	for i := range actions {
		actions[i] = int(int32(binary.LittleEndian.Uint32(frame[4*i:])))
	}
	return actions, nil
}

// EncodeState builds a state frame.
func EncodeState(state []float32) []byte {
	frame := make([]byte, 5+4*len(state))
	frame[0] = byte(KindState)
	binary.LittleEndian.PutUint32(frame[1:], uint32(len(state)))
	for i, v := range state {
		binary.LittleEndian.PutUint32(frame[5+4*i:], math.Float32bits(v))
	}
	return frame
}

// EncodeReward builds a reward frame.
func EncodeReward(reward float32) []byte {
	frame := make([]byte, 5)
	frame[0] = byte(KindReward)
	binary.LittleEndian.PutUint32(frame[1:], math.Float32bits(reward))
	return frame
}
