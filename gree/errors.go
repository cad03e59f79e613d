// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gree

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrSendFailed          = errors.New("gree: socket send failed")
	ErrMessageDecode       = errors.New("gree: cannot parse device message")
	ErrMessageDecrypt      = errors.New("gree: cannot decrypt message")
	ErrUnrecognizedMessage = errors.New("gree: unknown message type received")
	ErrNotConnected        = errors.New("gree: client is not connected to the HVAC")
	ErrHandshakeTimeout    = errors.New("gree: connecting to HVAC timed out")
	ErrConnectCancelled    = errors.New("gree: connecting to HVAC was cancelled")
	ErrReadOnlyProperty    = errors.New("gree: cannot set read-only property")
	ErrUnknownProperty     = errors.New("gree: unknown property")
	ErrInvalidValue        = errors.New("gree: invalid property value")
	ErrCommandTimeout      = errors.New("gree: command not confirmed")
	ErrClientClosed        = errors.New("gree: client closed")
	ErrMissingTag          = errors.New("gree: missing authentication tag")
	ErrInvalidKey          = errors.New("gree: invalid cipher key")
)

// PropertyError reports a property the codec refused to translate.
type PropertyError struct {
	Property string
	Value    any
	Err      error
}

func (e *PropertyError) Error() string {
	if e.Value != nil && !errors.Is(e.Err, ErrReadOnlyProperty) {
		return fmt.Sprintf("%v: %s=%v", e.Err, e.Property, e.Value)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Property)
}

func (e *PropertyError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a datagram that was discarded. Kind is one of
// ErrMessageDecode, ErrMessageDecrypt or ErrUnrecognizedMessage.
type ProtocolError struct {
	Kind        error
	MessageType MessageType
	Err         error
}

func (e *ProtocolError) Error() string {
	msg := e.Kind.Error()
	if e.MessageType != "" {
		msg += fmt.Sprintf(" (t=%s)", e.MessageType)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func sendError(err error) error {
	return fmt.Errorf("%w: %w", ErrSendFailed, err)
}

// IsTimeout returns true if the error is a handshake or command timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrHandshakeTimeout) || errors.Is(err, ErrCommandTimeout)
}

// IsReadOnly returns true if a read-only property was rejected
func IsReadOnly(err error) bool {
	return errors.Is(err, ErrReadOnlyProperty)
}

// IsRecoverable returns true for errors the session recovers from on its own:
// discarded datagrams, send failures and timeouts.
func IsRecoverable(err error) bool {
	switch {
	case errors.Is(err, ErrMessageDecode),
		errors.Is(err, ErrMessageDecrypt),
		errors.Is(err, ErrUnrecognizedMessage),
		errors.Is(err, ErrSendFailed),
		IsTimeout(err):
		return true
	default:
		return false
	}
}
