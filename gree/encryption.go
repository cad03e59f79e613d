package gree

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncryptionVersion selects where bind escalation starts.
type EncryptionVersion int

const (
	// EncryptionNegotiate sends the first bind with the legacy cipher and
	// escalates on the second.
	EncryptionNegotiate EncryptionVersion = 1
	// EncryptionCurrent escalates on the first bind.
	EncryptionCurrent EncryptionVersion = 2
)

// EncryptionLayer owns both cipher families and the active one.
//
// The two families are not self-describing, so escalation is driven by the
// sender: the n-th bind request (n = escalation point) switches the active
// cipher to the current family before it is encrypted. Decryption always uses
// the active cipher, and a decrypted bindok rekeys it.
type EncryptionLayer struct {
	version     EncryptionVersion
	legacy      Cipher
	current     Cipher
	active      Cipher
	bindAttempt int
}

// NewEncryptionLayer returns a layer in its initial state: legacy cipher
// active, both default keys, bind attempt 1.
func NewEncryptionLayer(version EncryptionVersion) *EncryptionLayer {
	if version != EncryptionCurrent {
		version = EncryptionNegotiate
	}
	l := &EncryptionLayer{version: version}
	l.Reset()
	return l
}

// Reset restores the initial state. Discovery replies are always encrypted
// with the legacy default key, so every connect cycle starts here.
func (l *EncryptionLayer) Reset() {
	legacy, _ := NewECBCipher(DefaultLegacyKey)
	current, _ := NewGCMCipher(DefaultCurrentKey)
	l.legacy = legacy
	l.current = current
	l.active = legacy
	l.bindAttempt = 1
}

// Active returns the family of the active cipher.
func (l *EncryptionLayer) Active() CipherKind {
	return l.active.Kind()
}

// CurrentKey returns the key of the active cipher.
func (l *EncryptionLayer) CurrentKey() string {
	return l.active.Key()
}

// BindAttempt returns the number of the next bind request.
func (l *EncryptionLayer) BindAttempt() int {
	return l.bindAttempt
}

func (l *EncryptionLayer) escalationPoint() int {
	if l.version == EncryptionCurrent {
		return 1
	}
	return 2
}

// Encrypt serializes and encrypts an inner message, returning the base64
// payload and the base64 tag (empty for the legacy cipher).
func (l *EncryptionLayer) Encrypt(msg *Message) (pack, tag string, err error) {
	if msg.T == MessageBind {
		if l.bindAttempt == l.escalationPoint() {
			l.active = l.current
		}
		l.bindAttempt++
	}

	plain, err := json.Marshal(msg)
	if err != nil {
		return "", "", fmt.Errorf("encode %s: %w", msg.T, err)
	}
	ct, rawTag, err := l.active.Encrypt(plain)
	if err != nil {
		return "", "", fmt.Errorf("encrypt %s: %w", msg.T, err)
	}
	pack = base64.StdEncoding.EncodeToString(ct)
	if len(rawTag) > 0 {
		tag = base64.StdEncoding.EncodeToString(rawTag)
	}
	return pack, tag, nil
}

// Decrypt decodes a payload with the active cipher. A bindok message sets
// its key on the active cipher.
func (l *EncryptionLayer) Decrypt(pack, tag string) (*Message, error) {
	ct, err := base64.StdEncoding.DecodeString(pack)
	if err != nil {
		return nil, &ProtocolError{Kind: ErrMessageDecrypt, Err: fmt.Errorf("pack: %w", err)}
	}
	var rawTag []byte
	if tag != "" {
		rawTag, err = base64.StdEncoding.DecodeString(tag)
		if err != nil {
			return nil, &ProtocolError{Kind: ErrMessageDecrypt, Err: fmt.Errorf("tag: %w", err)}
		}
	}

	plain, err := l.active.Decrypt(ct, rawTag)
	if err != nil {
		return nil, &ProtocolError{Kind: ErrMessageDecrypt, Err: fmt.Errorf("%s: %w", l.active.Kind(), err)}
	}

	var msg Message
	if err := json.Unmarshal(plain, &msg); err != nil {
		return nil, &ProtocolError{Kind: ErrMessageDecrypt, Err: err}
	}

	if msg.T == MessageBindOK {
		if err := l.active.SetKey(msg.Key); err != nil {
			return nil, &ProtocolError{Kind: ErrMessageDecrypt, MessageType: msg.T, Err: err}
		}
	}
	return &msg, nil
}
