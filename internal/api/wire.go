package api

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/outbox"
	"github.com/matheus3301/livesync/internal/status"
	intsync "github.com/matheus3301/livesync/internal/sync"
)

// Wire messages are structpb.Struct values. Timestamps travel as unix
// milliseconds; absent optional strings travel as null.

func encodeMessage(m entity.Message) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":              structpb.NewStringValue(m.ID),
		"conversation_id": structpb.NewStringValue(m.ConversationID),
		"direction":       structpb.NewStringValue(string(m.Direction)),
		"content":         optional(m.Content),
		"media_ref":       optional(m.MediaRef),
		"status":          structpb.NewStringValue(string(m.Status)),
		"created_at_ms":   millis(m.CreatedAt),
	}}
}

func decodeMessage(s *structpb.Struct) entity.Message {
	return entity.Message{
		ID:             str(s, "id"),
		ConversationID: str(s, "conversation_id"),
		Direction:      entity.Direction(str(s, "direction")),
		Content:        optStr(s, "content"),
		MediaRef:       optStr(s, "media_ref"),
		Status:         status.Status(str(s, "status")),
		CreatedAt:      timeOf(s, "created_at_ms"),
	}
}

func encodeConversation(c entity.Conversation) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":                   structpb.NewStringValue(c.ID),
		"title":                structpb.NewStringValue(c.Title),
		"last_message_at_ms":   millis(c.LastMessageAt),
		"last_message_preview": structpb.NewStringValue(c.LastMessagePreview),
		"unread_count":         structpb.NewNumberValue(float64(c.UnreadCount)),
	}}
}

func decodeConversation(s *structpb.Struct) entity.Conversation {
	return entity.Conversation{
		ID:                 str(s, "id"),
		Title:              str(s, "title"),
		LastMessageAt:      timeOf(s, "last_message_at_ms"),
		LastMessagePreview: str(s, "last_message_preview"),
		UnreadCount:        int(num(s, "unread_count")),
	}
}

func encodeEvent(ev intsync.ChangeEvent) *structpb.Struct {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		"table": structpb.NewStringValue(string(ev.Table)),
		"op":    structpb.NewStringValue(string(ev.Op)),
	}}
	if ev.Message != nil {
		out.Fields["message"] = structpb.NewStructValue(encodeMessage(*ev.Message))
	}
	if ev.Conversation != nil {
		out.Fields["conversation"] = structpb.NewStructValue(encodeConversation(*ev.Conversation))
	}
	return out
}

// decodeEvent keeps missing records nil so scope validation can reject them.
func decodeEvent(s *structpb.Struct) intsync.ChangeEvent {
	ev := intsync.ChangeEvent{
		Table: intsync.Table(str(s, "table")),
		Op:    intsync.Op(str(s, "op")),
	}
	if ms := s.GetFields()["message"].GetStructValue(); ms != nil {
		m := decodeMessage(ms)
		ev.Message = &m
	}
	if cs := s.GetFields()["conversation"].GetStructValue(); cs != nil {
		c := decodeConversation(cs)
		ev.Conversation = &c
	}
	return ev
}

// MarshalEvent renders ev as the JSON form of its wire message.
func MarshalEvent(ev intsync.ChangeEvent) ([]byte, error) {
	return protojson.Marshal(encodeEvent(ev))
}

// UnmarshalEvent parses the output of MarshalEvent.
func UnmarshalEvent(data []byte) (intsync.ChangeEvent, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return intsync.ChangeEvent{}, err
	}
	return decodeEvent(&s), nil
}

func encodeSendRequest(req outbox.SendRequest) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"client_id":       structpb.NewStringValue(req.ClientID),
		"conversation_id": structpb.NewStringValue(req.ConversationID),
		"content":         optional(req.Content),
		"media_ref":       optional(req.MediaRef),
	}}
}

func decodeSendRequest(s *structpb.Struct) outbox.SendRequest {
	return outbox.SendRequest{
		ClientID:       str(s, "client_id"),
		ConversationID: str(s, "conversation_id"),
		Content:        optStr(s, "content"),
		MediaRef:       optStr(s, "media_ref"),
	}
}

func encodeList[T any](key string, items []T, enc func(T) *structpb.Struct) *structpb.Struct {
	values := make([]*structpb.Value, len(items))
	for i, it := range items {
		values[i] = structpb.NewStructValue(enc(it))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		key: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func decodeList[T any](s *structpb.Struct, key string, dec func(*structpb.Struct) T) ([]T, error) {
	values := s.GetFields()[key].GetListValue().GetValues()
	out := make([]T, 0, len(values))
	for i, v := range values {
		item := v.GetStructValue()
		if item == nil {
			return nil, fmt.Errorf("%s[%d]: not an object", key, i)
		}
		out = append(out, dec(item))
	}
	return out, nil
}

func optional(p *string) *structpb.Value {
	if p == nil {
		return structpb.NewNullValue()
	}
	return structpb.NewStringValue(*p)
}

func millis(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewNumberValue(0)
	}
	return structpb.NewNumberValue(float64(t.UnixMilli()))
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func optStr(s *structpb.Struct, key string) *string {
	v, ok := s.GetFields()[key].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil
	}
	out := v.StringValue
	return &out
}

func num(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

func boolean(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func timeOf(s *structpb.Struct, key string) time.Time {
	ms := int64(num(s, key))
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
