package gree

import (
	"encoding/json"
	"fmt"
)

// Protocol constants
const (
	DefaultHost = "192.168.1.255"
	DefaultPort = 7000

	// clientCID is the correlation sentinel carried by every client envelope.
	clientCID = "app"
)

// MessageType is the "t" field of an envelope or inner message.
type MessageType string

const (
	MessageScan   MessageType = "scan"
	MessagePack   MessageType = "pack"
	MessageDev    MessageType = "dev"
	MessageBind   MessageType = "bind"
	MessageBindOK MessageType = "bindok"
	MessageStatus MessageType = "status"
	MessageDat    MessageType = "dat"
	MessageCmd    MessageType = "cmd"
	MessageRes    MessageType = "res"
)

// Envelope is the outer, unencrypted document of every datagram.
type Envelope struct {
	CID  string      `json:"cid"`
	I    int         `json:"i"`
	T    MessageType `json:"t"`
	TCID string      `json:"tcid,omitempty"`
	UID  int         `json:"uid"`
	Pack string      `json:"pack"`
	Tag  string      `json:"tag,omitempty"`
}

// Message is the decrypted inner document. Only the fields relevant to its
// type are populated.
type Message struct {
	T   MessageType `json:"t"`
	MAC string      `json:"mac,omitempty"`
	UID *int        `json:"uid,omitempty"`

	// dev
	CID     string `json:"cid,omitempty"`
	Name    string `json:"name,omitempty"`
	Model   string `json:"model,omitempty"`
	Brand   string `json:"brand,omitempty"`
	Ver     string `json:"ver,omitempty"`
	Series  string `json:"series,omitempty"`
	Vender  string `json:"vender,omitempty"`
	MID     string `json:"mid,omitempty"`
	Catalog string `json:"catalog,omitempty"`
	BC      string `json:"bc,omitempty"`
	Lock    int    `json:"lock,omitempty"`

	// bindok
	Key string `json:"key,omitempty"`
	R   int    `json:"r,omitempty"`

	// status / dat
	Cols []string `json:"cols,omitempty"`
	Dat  []int    `json:"dat,omitempty"`

	// cmd / res
	Opt []string `json:"opt,omitempty"`
	P   []int    `json:"p,omitempty"`
	Val []int    `json:"val,omitempty"`
}

// scanRequest is the unencrypted discovery broadcast.
var scanRequest = []byte(`{"t":"scan"}`)

func newBindMessage(mac string) *Message {
	uid := 0
	return &Message{T: MessageBind, MAC: mac, UID: &uid}
}

func newStatusMessage(mac string, cols []string) *Message {
	return &Message{T: MessageStatus, MAC: mac, Cols: cols}
}

func newCommandMessage(opt []string, p []int) *Message {
	return &Message{T: MessageCmd, Opt: opt, P: p}
}

// encodeEnvelope builds a client envelope around an encrypted payload.
// Bind requests are flagged with i=1.
func encodeEnvelope(t MessageType, pack, tag string) ([]byte, error) {
	env := Envelope{
		CID:  clientCID,
		T:    MessagePack,
		UID:  0,
		Pack: pack,
		Tag:  tag,
	}
	if t == MessageBind {
		env.I = 1
	}
	data, err := json.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// decodeEnvelope parses a received datagram.
func decodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Kind: ErrMessageDecode, Err: err}
	}
	if env.Pack == "" {
		return nil, &ProtocolError{Kind: ErrMessageDecode, MessageType: env.T, Err: fmt.Errorf("envelope without pack")}
	}
	return &env, nil
}

// DeviceInfo describes the appliance as reported in its discovery reply.
type DeviceInfo struct {
	ID      string `json:"id"`
	MAC     string `json:"mac"`
	Name    string `json:"name"`
	Model   string `json:"model"`
	Brand   string `json:"brand"`
	Version string `json:"version"`
	Series  string `json:"series"`
	Vendor  string `json:"vendor"`
	MID     string `json:"mid"`
	Catalog string `json:"catalog"`
	BC      string `json:"bc"`
	Lock    int    `json:"lock"`
}

func deviceInfoFromMessage(m *Message) DeviceInfo {
	id := m.CID
	if id == "" {
		id = m.MAC
	}
	return DeviceInfo{
		ID:      id,
		MAC:     m.MAC,
		Name:    m.Name,
		Model:   m.Model,
		Brand:   m.Brand,
		Version: m.Ver,
		Series:  m.Series,
		Vendor:  m.Vender,
		MID:     m.MID,
		Catalog: m.Catalog,
		BC:      m.BC,
		Lock:    m.Lock,
	}
}
