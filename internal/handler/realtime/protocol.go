package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/zhouzirui/tao-chat/backend/internal/service/presence"
)

// 客户端发送的消息类型
const (
	typeJoin          = "join"
	typeSendMessage   = "send_message"
	typeTypingStart   = "typing_start"
	typeTypingStop    = "typing_stop"
	typeClearMessages = "clear_messages"
)

var (
	errMalformedFrame = errors.New("malformed message")
	errInvalidPayload = errors.New("invalid payload")
)

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// JoinPayload 加入聊天室
type JoinPayload struct {
	Username string `json:"username"`
}

// SendMessagePayload 发送消息
type SendMessagePayload struct {
	Content string `json:"content"`
}

type unsupportedTypeError string

func (e unsupportedTypeError) Error() string {
	return "unsupported message type: " + string(e)
}

// decodeCommand turns one inbound frame into a coordinator command.
func decodeCommand(connID string, frame []byte) (presence.Command, error) {
	var msg inboundMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, errMalformedFrame
	}

	switch msg.Type {
	case typeJoin:
		var payload JoinPayload
		if err := decodePayload(msg.Data, &payload); err != nil {
			return nil, err
		}
		return presence.Join{Conn: connID, Username: payload.Username}, nil
	case typeSendMessage:
		var payload SendMessagePayload
		if err := decodePayload(msg.Data, &payload); err != nil {
			return nil, err
		}
		return presence.SendMessage{Conn: connID, Content: payload.Content}, nil
	case typeTypingStart:
		return presence.TypingStart{Conn: connID}, nil
	case typeTypingStop:
		return presence.TypingStop{Conn: connID}, nil
	case typeClearMessages:
		return presence.ClearMessages{Conn: connID}, nil
	default:
		return nil, unsupportedTypeError(msg.Type)
	}
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errInvalidPayload
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errInvalidPayload
	}
	return nil
}

func encodeEvent(evt presence.Event) outgoingMessage {
	return outgoingMessage{
		Type:      evt.Name(),
		Data:      evt.Payload(),
		Timestamp: time.Now().Unix(),
	}
}
