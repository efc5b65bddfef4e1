// Package protocol encodes and decodes kvsd's fixed-width wire frames:
// the registration-pipe connection frame (§6.3), request frames (§6.4),
// response frames (§6.5), and notification frames (§6.6). Frames are flat,
// fixed-size, NUL-padded byte arrays, matching the original C
// implementation's raw-buffer layout (original_source/src/server/operations.c,
// original_source/src/client/api.c) closely enough that encoding/binary
// would add nothing over direct slicing.
package protocol

import (
	"github.com/adred-codev/kvsd/internal/kvserr"
)

// Notification type tags (§6.6).
const (
	NotifyChanged   byte = 1
	NotifyDeleted   byte = 2
	NotifyTerminate byte = 3
)

// Request op codes (§6.4). CONNECT (1) only ever appears on the
// registration pipe, never in a request frame.
const (
	OpConnect     byte = 1
	OpDisconnect  byte = 2
	OpSubscribe   byte = 3
	OpUnsubscribe byte = 4
)

// Response result codes for SUBSCRIBE/UNSUBSCRIBE (§4.7 step 5, §6.5,
// §9 Design Notes — this repo fixes the convention the original left
// ambiguous between its server and client):
//
//	0 = success (Accepted for subscribe, Removed for unsubscribe)
//	1 = key-absent
//	2 = other error (Duplicate subscribe, NotSubscribed unsubscribe, quota)
const (
	ResultSuccess    byte = 0
	ResultKeyAbsent  byte = 1
	ResultOtherError byte = 2
)

// Sizes encodes the three size constants the wire formats are built from.
type Sizes struct {
	MaxStringSize     int
	MaxPipePathLength int
}

// ConnectionFrameLen returns 1 + 3*P, the registration-pipe frame size.
func (s Sizes) ConnectionFrameLen() int {
	return 1 + 3*s.MaxPipePathLength
}

// NotificationFrameLen returns 1 + 2*MAX_STRING_SIZE.
func (s Sizes) NotificationFrameLen() int {
	return 1 + 2*s.MaxStringSize
}

// SubscribeFrameLen returns 1 + MAX_STRING_SIZE, the shape shared by
// SUBSCRIBE and UNSUBSCRIBE request frames.
func (s Sizes) SubscribeFrameLen() int {
	return 1 + s.MaxStringSize
}

// ConnectionRecord is the triple carried by a registration-pipe CONNECT
// frame (§3, §6.3).
type ConnectionRecord struct {
	RequestPath      string
	ResponsePath     string
	NotificationPath string
}

func padCopy(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// EncodeConnectionFrame builds the registration-pipe CONNECT frame.
func EncodeConnectionFrame(s Sizes, rec ConnectionRecord) ([]byte, error) {
	if len(rec.RequestPath) > s.MaxPipePathLength ||
		len(rec.ResponsePath) > s.MaxPipePathLength ||
		len(rec.NotificationPath) > s.MaxPipePathLength {
		return nil, kvserr.ErrProtocolFrameMalformed
	}
	buf := make([]byte, s.ConnectionFrameLen())
	buf[0] = OpConnect
	p := s.MaxPipePathLength
	padCopy(buf[1:1+p], rec.RequestPath)
	padCopy(buf[1+p:1+2*p], rec.ResponsePath)
	padCopy(buf[1+2*p:1+3*p], rec.NotificationPath)
	return buf, nil
}

// DecodeConnectionFrame parses a registration-pipe frame previously built
// by EncodeConnectionFrame.
func DecodeConnectionFrame(s Sizes, buf []byte) (ConnectionRecord, error) {
	if len(buf) != s.ConnectionFrameLen() || buf[0] != OpConnect {
		return ConnectionRecord{}, kvserr.ErrProtocolFrameMalformed
	}
	p := s.MaxPipePathLength
	return ConnectionRecord{
		RequestPath:      trimNUL(buf[1 : 1+p]),
		ResponsePath:     trimNUL(buf[1+p : 1+2*p]),
		NotificationPath: trimNUL(buf[1+2*p : 1+3*p]),
	}, nil
}

// EncodeResponse builds the 2-byte response frame (§6.5).
func EncodeResponse(opCode, result byte) []byte {
	return []byte{opCode, result}
}

// DecodeResponse parses a 2-byte response frame.
func DecodeResponse(buf []byte) (opCode, result byte, err error) {
	if len(buf) != 2 {
		return 0, 0, kvserr.ErrProtocolFrameMalformed
	}
	return buf[0], buf[1], nil
}

// EncodeSubscribeRequest builds a SUBSCRIBE/UNSUBSCRIBE request frame:
// 1 + MAX_STRING_SIZE bytes, op code then the NUL-padded key (§6.4).
func EncodeSubscribeRequest(s Sizes, opCode byte, key string) ([]byte, error) {
	if len(key) > s.MaxStringSize {
		return nil, kvserr.ErrProtocolFrameMalformed
	}
	buf := make([]byte, s.SubscribeFrameLen())
	buf[0] = opCode
	padCopy(buf[1:], key)
	return buf, nil
}

// DecodeSubscribeRequest parses the key out of a SUBSCRIBE/UNSUBSCRIBE
// request frame (the op code byte is read separately by the session loop
// to decide how many more bytes to read, per §4.7 step 5).
func DecodeSubscribeRequest(s Sizes, buf []byte) (string, error) {
	if len(buf) != s.MaxStringSize {
		return "", kvserr.ErrProtocolFrameMalformed
	}
	return trimNUL(buf), nil
}

// Notification is the decoded form of a notification-pipe frame.
type Notification struct {
	Type  byte
	Key   string
	Value string
}

// EncodeNotification builds a fixed 1+2*MAX_STRING_SIZE byte notification
// frame (§6.6). For NotifyDeleted, value is ignored and the literal
// "DELETED" is written instead; for NotifyTerminate both key and value are
// ignored and the frame is all zeros after the type byte — matching
// original_source/src/server/operations.c's write_notification exactly.
func EncodeNotification(s Sizes, n Notification) ([]byte, error) {
	buf := make([]byte, s.NotificationFrameLen())
	buf[0] = n.Type
	switch n.Type {
	case NotifyChanged:
		if len(n.Key) > s.MaxStringSize || len(n.Value) > s.MaxStringSize {
			return nil, kvserr.ErrProtocolFrameMalformed
		}
		padCopy(buf[1:1+s.MaxStringSize], n.Key)
		padCopy(buf[1+s.MaxStringSize:], n.Value)
	case NotifyDeleted:
		if len(n.Key) > s.MaxStringSize {
			return nil, kvserr.ErrProtocolFrameMalformed
		}
		padCopy(buf[1:1+s.MaxStringSize], n.Key)
		padCopy(buf[1+s.MaxStringSize:], "DELETED")
	case NotifyTerminate:
		// key/value bytes stay zeroed.
	default:
		return nil, kvserr.ErrProtocolFrameMalformed
	}
	return buf, nil
}

// DecodeNotification parses a notification-pipe frame.
func DecodeNotification(s Sizes, buf []byte) (Notification, error) {
	if len(buf) != s.NotificationFrameLen() {
		return Notification{}, kvserr.ErrProtocolFrameMalformed
	}
	n := Notification{Type: buf[0]}
	if n.Type == NotifyChanged || n.Type == NotifyDeleted {
		n.Key = trimNUL(buf[1 : 1+s.MaxStringSize])
		n.Value = trimNUL(buf[1+s.MaxStringSize:])
	}
	return n, nil
}
