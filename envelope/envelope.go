package envelope

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rajashekarcs2023/weather-marketplace/identity"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// Version is the only envelope version produced and accepted.
const Version = 1

// Schema names of the payloads exchanged in the marketplace.
const (
	SchemaWeatherRequest  = "WeatherRequest"
	SchemaWeatherResponse = "WeatherResponse"
)

// Envelope is the signed wire form of one message between two agents.
type Envelope struct {
	Version      int    `json:"version"`
	Sender       string `json:"sender"`
	Target       string `json:"target"`
	Session      string `json:"session"`
	SchemaDigest string `json:"schema_digest"`
	// Payload is the base64 of the JSON object carried by the envelope.
	Payload   string `json:"payload,omitempty"`
	Expires   int64  `json:"expires,omitempty"`
	Nonce     int64  `json:"nonce,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Message is the unsigned content of an envelope.
type Message struct {
	Target  string
	Session string
	Schema  string
	Payload types.Payload
	// TTL bounds how long receivers accept the envelope; 0 means no expiry.
	TTL time.Duration
}

// SchemaDigest returns the digest advertised for a schema name.
func SchemaDigest(schema string) string {
	sum := sha256.Sum256([]byte(schema))
	return "model:" + hex.EncodeToString(sum[:])
}

// Seal builds and signs an envelope from sender to msg.Target. A missing
// session gets a fresh one.
func Seal(sender *identity.Identity, msg Message, now time.Time) (*Envelope, error) {
	if sender == nil {
		return nil, fmt.Errorf("envelope: nil sender")
	}
	if !identity.ValidAddress(msg.Target) {
		return nil, fmt.Errorf("%w: target %q", ErrMalformed, msg.Target)
	}

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode payload: %w", err)
	}

	session := msg.Session
	if session == "" {
		session = uuid.NewString()
	}

	env := &Envelope{
		Version:      Version,
		Sender:       sender.Address(),
		Target:       msg.Target,
		Session:      session,
		SchemaDigest: SchemaDigest(msg.Schema),
		Payload:      base64.StdEncoding.EncodeToString(raw),
		Nonce:        newNonce(),
	}
	if msg.TTL > 0 {
		env.Expires = now.Add(msg.TTL).Unix()
	}
	env.Signature = base64.StdEncoding.EncodeToString(sender.Sign(env.Digest()))
	return env, nil
}

// Digest is the SHA-256 the signature covers: every field except the signature.
func (e *Envelope) Digest() []byte {
	h := sha256.New()
	writeField := func(s string) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	writeInt := func(v int64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v))
		h.Write(b[:])
	}

	writeInt(int64(e.Version))
	writeField(e.Sender)
	writeField(e.Target)
	writeField(e.Session)
	writeField(e.SchemaDigest)
	writeField(e.Payload)
	writeInt(e.Expires)
	writeInt(e.Nonce)
	return h.Sum(nil)
}

// Verify checks the signature against the key embedded in the sender address.
func (e *Envelope) Verify() error {
	sig, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64", ErrInvalidSignature)
	}
	if err := identity.Verify(e.Sender, e.Digest(), sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Expired reports whether the envelope carries an expiry before now.
func (e *Envelope) Expired(now time.Time) bool {
	return e.Expires != 0 && now.Unix() > e.Expires
}

// Is reports whether the envelope carries the given schema.
func (e *Envelope) Is(schema string) bool {
	return e.SchemaDigest == SchemaDigest(schema)
}

// DecodePayload returns the JSON object carried by the envelope.
func (e *Envelope) DecodePayload() (types.Payload, error) {
	if e.Payload == "" {
		return types.Payload{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64", ErrMalformed)
	}
	var p types.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformed)
	}
	if p == nil {
		p = types.Payload{}
	}
	return p, nil
}

// Encode marshals the envelope for transmission.
func Encode(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Opener parses and authenticates inbound envelopes.
type Opener struct {
	// Self, when set, must equal the envelope target.
	Self string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Open decodes raw, checks structure, signature, expiry and target, and
// returns the envelope with its payload.
func (o Opener) Open(raw []byte) (*Envelope, types.Payload, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil, ErrEmpty
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Version != Version {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	for name, v := range map[string]string{
		"sender":        env.Sender,
		"target":        env.Target,
		"session":       env.Session,
		"schema_digest": env.SchemaDigest,
		"signature":     env.Signature,
	} {
		if v == "" {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}

	if err := env.Verify(); err != nil {
		return nil, nil, err
	}

	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	if env.Expired(now()) {
		return nil, nil, ErrExpired
	}
	if o.Self != "" && env.Target != o.Self {
		return nil, nil, fmt.Errorf("%w: addressed to %s", ErrTargetMismatch, env.Target)
	}

	payload, err := env.DecodePayload()
	if err != nil {
		return nil, nil, err
	}
	return &env, payload, nil
}

// newNonce returns a positive random nonce.
func newNonce() int64 {
	u := uuid.New()
	return int64(binary.BigEndian.Uint64(u[:8]) >> 1)
}
