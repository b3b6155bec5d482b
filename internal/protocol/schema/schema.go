package schema

import (
	"fmt"

	"github.com/barc/reactivemover/internal/logging"
	"github.com/barc/reactivemover/internal/protocol/tlv"
)

// Wire identity for base <-> controller frames.
const (
	Magic   uint32 = 0xBA5C0001
	Version uint16 = 1
)

// Message type IDs from tlv contract.
const (
	MsgLaserScan uint32 = 1
	MsgTwist     uint32 = 2
	MsgHello     uint32 = 3
)

// Field IDs from tlv contract.
const (
	FieldSeq     uint16 = 1
	FieldStampMS uint16 = 2

	FieldRangeMax uint16 = 100
	FieldRanges   uint16 = 101

	FieldLinear  uint16 = 200
	FieldAngular uint16 = 201

	FieldNodeID uint16 = 300
	FieldRunID  uint16 = 301
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgLaserScan: {
		{FieldSeq, tlv.TypeU64},
		{FieldStampMS, tlv.TypeU64},
		{FieldRangeMax, tlv.TypeF64},
		{FieldRanges, tlv.TypeF64List},
	},
	MsgTwist: {
		{FieldLinear, tlv.TypeF64},
		{FieldAngular, tlv.TypeF64},
		{FieldStampMS, tlv.TypeU64},
	},
	MsgHello: {
		{FieldNodeID, tlv.TypeString},
		{FieldRunID, tlv.TypeString},
	},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	logger := logging.Component("schema")
	reqs, ok := requirements[messageType]
	if !ok {
		logger.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			logger.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logger.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	logger.Trace().Uint32("message_type", messageType).Int("fields", len(fields)).Msg("schema.Validate ok")
	return nil
}
