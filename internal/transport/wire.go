package transport

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/barc/reactivemover/internal/actuator"
	"github.com/barc/reactivemover/internal/perception"
	"github.com/barc/reactivemover/internal/protocol/frame"
	"github.com/barc/reactivemover/internal/protocol/schema"
	"github.com/barc/reactivemover/internal/protocol/tlv"
)

var ErrUnexpectedMessage = errors.New("transport: unexpected message type")

// Hello opens every base session, sent by the controller. Token rides in the
// frame auth section, not in the TLV payload.
type Hello struct {
	NodeID string
	RunID  string
	Token  string
}

func (h Hello) Validate() error {
	if strings.TrimSpace(h.NodeID) == "" {
		return fmt.Errorf("hello missing node_id")
	}
	if strings.TrimSpace(h.RunID) == "" {
		return fmt.Errorf("hello missing run_id")
	}
	return nil
}

func EncodeScanFrame(messageID uint64, scan perception.Scan) ([]byte, error) {
	return encode(frame.New(schema.MsgLaserScan, messageID,
		tlv.U64Field(schema.FieldSeq, scan.Seq),
		tlv.U64Field(schema.FieldStampMS, stampMS(scan.Stamp)),
		tlv.F64Field(schema.FieldRangeMax, scan.RangeMax),
		tlv.F64ListField(schema.FieldRanges, scan.Ranges),
	))
}

// DecodeScanFrame decodes the wire shape only; range semantics are checked at
// ingestion by perception.Scan.Validate.
func DecodeScanFrame(f frame.Frame) (perception.Scan, error) {
	fields, err := fieldsOf(f, schema.MsgLaserScan)
	if err != nil {
		return perception.Scan{}, err
	}
	seq, err := tlv.U64FromBytes(requiredField(fields, schema.FieldSeq).Value)
	if err != nil {
		return perception.Scan{}, err
	}
	ms, err := tlv.U64FromBytes(requiredField(fields, schema.FieldStampMS).Value)
	if err != nil {
		return perception.Scan{}, err
	}
	rangeMax, err := tlv.F64FromBytes(requiredField(fields, schema.FieldRangeMax).Value)
	if err != nil {
		return perception.Scan{}, err
	}
	ranges, err := tlv.F64ListFromBytes(requiredField(fields, schema.FieldRanges).Value)
	if err != nil {
		return perception.Scan{}, err
	}
	return perception.Scan{
		Seq:      seq,
		Stamp:    fromMS(ms),
		RangeMax: rangeMax,
		Ranges:   ranges,
	}, nil
}

func EncodeTwistFrame(messageID uint64, cmd actuator.Twist) ([]byte, error) {
	return encode(frame.New(schema.MsgTwist, messageID,
		tlv.F64Field(schema.FieldLinear, cmd.Linear),
		tlv.F64Field(schema.FieldAngular, cmd.Angular),
		tlv.U64Field(schema.FieldStampMS, stampMS(cmd.Stamp)),
	))
}

func DecodeTwistFrame(f frame.Frame) (actuator.Twist, error) {
	fields, err := fieldsOf(f, schema.MsgTwist)
	if err != nil {
		return actuator.Twist{}, err
	}
	linear, err := tlv.F64FromBytes(requiredField(fields, schema.FieldLinear).Value)
	if err != nil {
		return actuator.Twist{}, err
	}
	angular, err := tlv.F64FromBytes(requiredField(fields, schema.FieldAngular).Value)
	if err != nil {
		return actuator.Twist{}, err
	}
	ms, err := tlv.U64FromBytes(requiredField(fields, schema.FieldStampMS).Value)
	if err != nil {
		return actuator.Twist{}, err
	}
	return actuator.Twist{Linear: linear, Angular: angular, Stamp: fromMS(ms)}, nil
}

func EncodeHelloFrame(messageID uint64, hello Hello) ([]byte, error) {
	if err := hello.Validate(); err != nil {
		return nil, err
	}
	f := frame.New(schema.MsgHello, messageID,
		tlv.StringField(schema.FieldNodeID, hello.NodeID),
		tlv.StringField(schema.FieldRunID, hello.RunID),
	)
	if hello.Token != "" {
		f.Auth = []byte(hello.Token)
	}
	return encode(f)
}

func DecodeHelloFrame(f frame.Frame) (Hello, error) {
	fields, err := fieldsOf(f, schema.MsgHello)
	if err != nil {
		return Hello{}, err
	}
	hello := Hello{
		NodeID: string(requiredField(fields, schema.FieldNodeID).Value),
		RunID:  string(requiredField(fields, schema.FieldRunID).Value),
		Token:  string(f.Auth),
	}
	if err := hello.Validate(); err != nil {
		return Hello{}, err
	}
	return hello, nil
}

func encode(f frame.Frame) ([]byte, error) {
	if _, err := f.Fields(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, f, frame.DefaultLimits()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fieldsOf(f frame.Frame, want uint32) ([]tlv.Field, error) {
	if f.Header.MessageType != want {
		return nil, fmt.Errorf("%w: got %d want %d", ErrUnexpectedMessage, f.Header.MessageType, want)
	}
	return f.Fields()
}

// requiredField is only called after schema validation.
func requiredField(fields []tlv.Field, id uint16) tlv.Field {
	f, _ := tlv.GetField(fields, id)
	return f
}

func stampMS(t time.Time) uint64 {
	if t.IsZero() || t.UnixMilli() < 0 {
		return 0
	}
	return uint64(t.UnixMilli())
}

func fromMS(ms uint64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}
