package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates the three message bodies spec §6.2 and §9
// define. The search queue carries "case" and "name"; the data queue
// carries "data".
type MessageType string

const (
	MessageTypeCase MessageType = "case"
	MessageTypeName MessageType = "name"
	MessageTypeData MessageType = "data"
)

// CaseBody is a search-queue case message: resolve a case number to a
// caseId (spec §4.8).
type CaseBody struct {
	MessageType MessageType `json:"messageType"`
	CaseNumber  string      `json:"caseNumber"`
	UserID      string      `json:"userId"`
	UserAgent   string      `json:"userAgent,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NameBody is a search-queue name-search message (spec §4.8, name-search branch).
type NameBody struct {
	MessageType  MessageType `json:"messageType"`
	SearchID     string      `json:"searchId"`
	Name         string      `json:"name"`
	UserID       string      `json:"userId"`
	DateOfBirth  string      `json:"dateOfBirth,omitempty"`
	SoundsLike   bool        `json:"soundsLike,omitempty"`
	CriminalOnly bool        `json:"criminalOnly,omitempty"`
	UserAgent    string      `json:"userAgent,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// DataBody is a data-queue message: fetch a case's summary (spec §4.9).
type DataBody struct {
	MessageType MessageType `json:"messageType"`
	CaseNumber  string      `json:"caseNumber"`
	CaseID      string      `json:"caseId"`
	UserID      string      `json:"userId"`
	Timestamp   time.Time   `json:"timestamp"`
}

// EncodeCase marshals a CaseBody ready to send on the search queue.
func EncodeCase(body CaseBody) (string, error) {
	body.MessageType = MessageTypeCase
	return encodeBody(body)
}

// EncodeName marshals a NameBody ready to send on the search queue.
func EncodeName(body NameBody) (string, error) {
	body.MessageType = MessageTypeName
	return encodeBody(body)
}

// EncodeData marshals a DataBody ready to send on the data queue.
func EncodeData(body DataBody) (string, error) {
	body.MessageType = MessageTypeData
	return encodeBody(body)
}

func encodeBody(body any) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("queue: encode message body: %w", err)
	}
	return string(data), nil
}

// messageTypeEnvelope reads just the discriminator field.
type messageTypeEnvelope struct {
	MessageType MessageType `json:"messageType"`
}

// DecodeSearchMessage dispatches a search-queue message body to either
// a CaseBody or a NameBody based on its messageType tag (spec §6.2
// dispatch-by-presence rule, made explicit rather than inferred from
// which fields are present).
func DecodeSearchMessage(body string) (caseBody *CaseBody, nameBody *NameBody, err error) {
	var envelope messageTypeEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return nil, nil, fmt.Errorf("queue: decode message envelope: %w", err)
	}

	switch envelope.MessageType {
	case MessageTypeName:
		var nb NameBody
		if err := json.Unmarshal([]byte(body), &nb); err != nil {
			return nil, nil, fmt.Errorf("queue: decode name message: %w", err)
		}
		return nil, &nb, nil
	case MessageTypeCase, "":
		var cb CaseBody
		if err := json.Unmarshal([]byte(body), &cb); err != nil {
			return nil, nil, fmt.Errorf("queue: decode case message: %w", err)
		}
		return &cb, nil, nil
	default:
		return nil, nil, fmt.Errorf("queue: unknown search message type %q", envelope.MessageType)
	}
}

// DecodeDataMessage decodes a data-queue message body.
func DecodeDataMessage(body string) (*DataBody, error) {
	var db DataBody
	if err := json.Unmarshal([]byte(body), &db); err != nil {
		return nil, fmt.Errorf("queue: decode data message: %w", err)
	}
	return &db, nil
}
