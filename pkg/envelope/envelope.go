// Package envelope defines the signed, versioned unit of delivery.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"yuim/pkg/canonical"
	"yuim/pkg/keyring"
)

// Version is the only envelope format consumers accept.
const Version = 1

var ErrMissingPayload = errors.New("envelope: missing d")

// Envelope fields serialize in declaration order.
type Envelope struct {
	V      int     `json:"v"`
	Kid    string  `json:"kid"`
	T      Type    `json:"t"`
	RoomID string  `json:"room_id"`
	S      string  `json:"s"`
	TS     int64   `json:"ts"`
	TxnID  string  `json:"txn_id"`
	D      Payload `json:"d"`
	Sig    string  `json:"sig"`

	// raw d as received; hashing and re-encoding use it verbatim.
	rawD json.RawMessage
}

type wire struct {
	V      int             `json:"v"`
	Kid    string          `json:"kid"`
	T      Type            `json:"t"`
	RoomID string          `json:"room_id"`
	S      string          `json:"s"`
	TS     int64           `json:"ts"`
	TxnID  string          `json:"txn_id"`
	D      json.RawMessage `json:"d"`
	Sig    string          `json:"sig"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	d := e.rawD
	if d == nil {
		if e.D == nil {
			return nil, ErrMissingPayload
		}
		b, err := json.Marshal(e.D)
		if err != nil {
			return nil, err
		}
		d = b
	}
	return json.Marshal(wire{
		V: e.V, Kid: e.Kid, T: e.T, RoomID: e.RoomID, S: e.S,
		TS: e.TS, TxnID: e.TxnID, D: d, Sig: e.Sig,
	})
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if len(w.D) == 0 || bytes.Equal(bytes.TrimSpace(w.D), []byte("null")) {
		return ErrMissingPayload
	}
	p, err := DecodePayload(w.T, w.D)
	if err != nil {
		return err
	}
	*e = Envelope{
		V: w.V, Kid: w.Kid, T: w.T, RoomID: w.RoomID, S: w.S,
		TS: w.TS, TxnID: w.TxnID, D: p, Sig: w.Sig,
		rawD: append(json.RawMessage(nil), w.D...),
	}
	return nil
}

// Decode parses a wire envelope.
func Decode(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// PayloadHash is the hex SHA-256 of the canonical form of d.
func (e *Envelope) PayloadHash() (string, error) {
	var (
		c   []byte
		err error
	)
	switch {
	case e.rawD != nil:
		c, err = canonical.Transform(e.rawD)
	case e.D != nil:
		c, err = canonical.Canonicalize(e.D)
	default:
		return "", ErrMissingPayload
	}
	if err != nil {
		return "", err
	}
	return keyring.Hash(c), nil
}

// SigningString is the exact byte sequence covered by sig.
func SigningString(e *Envelope, payloadHash string) string {
	return fmt.Sprintf("v=%d|t=%s|room_id=%s|sender_id=%s|txn_id=%s|ts=%d|payload_hash=%s",
		e.V, e.T, e.RoomID, e.S, e.TxnID, e.TS, payloadHash)
}

// Seal stamps the version and current kid, then signs. Nothing may change e afterwards.
func Seal(e *Envelope, kr *keyring.Keyring) error {
	if e.D == nil {
		return ErrMissingPayload
	}
	if e.D.Type() != e.T {
		return fmt.Errorf("envelope: payload type %s does not match t=%s", e.D.Type(), e.T)
	}
	e.V = Version
	e.Kid = kr.CurrentKID()
	e.rawD = nil
	hash, err := e.PayloadHash()
	if err != nil {
		return err
	}
	sig, err := kr.Sign(SigningString(e, hash), e.Kid)
	if err != nil {
		return err
	}
	e.Sig = sig
	return nil
}

// Verify checks sig against the ring key named by kid.
func Verify(e *Envelope, kr *keyring.Keyring) error {
	hash, err := e.PayloadHash()
	if err != nil {
		return err
	}
	return kr.Verify(SigningString(e, hash), e.Kid, e.Sig)
}
