package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Максимальный размер входящего кадра. Кадры больше отбрасываются
// ещё до декодирования.
const MaxFrameSize = 1 << 20 // 1 MiB

// Структурные ошибки транспортного уровня
var (
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	ErrMalformed     = errors.New("protocol: malformed frame")
	ErrUnknownKind   = errors.New("protocol: unknown frame kind")
)

// frameEnvelope — внешний конверт входящего кадра
type frameEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// InboundFrame — декодированный входящий кадр: ровно одно из полей не nil
type InboundFrame struct {
	GuestToSystem *GuestToSystem
	GuestToModule *GuestToModule
	AdminToSystem *AdminToSystem
}

// DecodeFrame разбирает текстовый кадр в типизированное сообщение
func DecodeFrame(data []byte) (*InboundFrame, error) {
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	frame := &InboundFrame{}
	switch env.Kind {
	case FrameGuestToSystem:
		var msg GuestToSystem
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		frame.GuestToSystem = &msg
	case FrameGuestToModule:
		var msg GuestToModule
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		frame.GuestToModule = &msg
	case FrameAdminToSystem:
		var msg AdminToSystem
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		frame.AdminToSystem = &msg
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	return frame, nil
}

// EncodeEvent сериализует исходящее событие в текстовый кадр
func EncodeEvent(ev *CommunicationEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeTicket разбирает первый кадр соединения
func DecodeTicket(data []byte) (*Ticket, error) {
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &t, nil
}
