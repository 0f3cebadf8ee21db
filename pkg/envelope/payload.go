package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

type Type string

const (
	TypeChat   Type = "chat"
	TypeGift   Type = "gift"
	TypeMod    Type = "mod"
	TypeSys    Type = "sys"
	TypeBattle Type = "battle"
	TypeCount  Type = "count"
)

var ErrUnknownType = errors.New("envelope: unknown type")

var types = []Type{TypeChat, TypeGift, TypeMod, TypeSys, TypeBattle, TypeCount}

func Types() []Type { return append([]Type(nil), types...) }

func (t Type) Valid() bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// Payload is the body carried in an envelope's d field. The set of
// implementations is closed: one struct per Type.
type Payload interface {
	Type() Type
	identity() *Identity
}

// Identity holds the sender fields that only the server may write.
type Identity struct {
	UserName         string  `json:"user_name"`
	UserAvatar       string  `json:"user_avatar"`
	UserRole         string  `json:"user_role"`
	UserTitle        string  `json:"user_title"`
	UserCreatedAt    string  `json:"user_created_at"`
	UserRGBExpiresAt *string `json:"user_rgb_expires_at"`
	UserGlowColor    *string `json:"user_glowing_username_color"`
}

func (i *Identity) identity() *Identity { return i }

// SetIdentity overwrites every identity field of p.
func SetIdentity(p Payload, id Identity) { *p.identity() = id }

func IdentityOf(p Payload) Identity { return *p.identity() }

type ChatData struct {
	Identity
	Content string                     `json:"content"`
	Extra   map[string]json.RawMessage `json:"-"`
}

type GiftData struct {
	Identity
	GiftID     string                     `json:"gift_id,omitempty"`
	Quantity   int64                      `json:"quantity,omitempty"`
	ReceiverID string                     `json:"receiver_id,omitempty"`
	Extra      map[string]json.RawMessage `json:"-"`
}

type ModData struct {
	Identity
	Action   string                     `json:"action,omitempty"`
	TargetID string                     `json:"target_id,omitempty"`
	Reason   string                     `json:"reason,omitempty"`
	Duration int64                      `json:"duration,omitempty"` // seconds
	Extra    map[string]json.RawMessage `json:"-"`
}

type SysData struct {
	Identity
	Mode       string                     `json:"mode,omitempty"`
	SampleRate int                        `json:"sample_rate,omitempty"`
	Message    string                     `json:"message,omitempty"`
	Extra      map[string]json.RawMessage `json:"-"`
}

type BattleData struct {
	Identity
	BattleID string                     `json:"battle_id,omitempty"`
	Phase    string                     `json:"phase,omitempty"`
	Extra    map[string]json.RawMessage `json:"-"`
}

type CountData struct {
	Identity
	Count int64                      `json:"count"`
	Extra map[string]json.RawMessage `json:"-"`
}

func (*ChatData) Type() Type   { return TypeChat }
func (*GiftData) Type() Type   { return TypeGift }
func (*ModData) Type() Type    { return TypeMod }
func (*SysData) Type() Type    { return TypeSys }
func (*BattleData) Type() Type { return TypeBattle }
func (*CountData) Type() Type  { return TypeCount }

// NewPayload returns an empty payload for t.
func NewPayload(t Type) (Payload, error) {
	switch t {
	case TypeChat:
		return &ChatData{}, nil
	case TypeGift:
		return &GiftData{}, nil
	case TypeMod:
		return &ModData{}, nil
	case TypeSys:
		return &SysData{}, nil
	case TypeBattle:
		return &BattleData{}, nil
	case TypeCount:
		return &CountData{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

// DecodePayload decodes raw as the payload schema of t.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	p, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("envelope: decode %s payload: %w", t, err)
	}
	return p, nil
}

func (p *ChatData) MarshalJSON() ([]byte, error) {
	type plain ChatData
	return marshalWithExtra((*plain)(p), p.Extra)
}

func (p *ChatData) UnmarshalJSON(b []byte) error {
	type plain ChatData
	return unmarshalWithExtra(b, (*plain)(p), &p.Extra)
}

func (p *GiftData) MarshalJSON() ([]byte, error) {
	type plain GiftData
	return marshalWithExtra((*plain)(p), p.Extra)
}

func (p *GiftData) UnmarshalJSON(b []byte) error {
	type plain GiftData
	return unmarshalWithExtra(b, (*plain)(p), &p.Extra)
}

func (p *ModData) MarshalJSON() ([]byte, error) {
	type plain ModData
	return marshalWithExtra((*plain)(p), p.Extra)
}

func (p *ModData) UnmarshalJSON(b []byte) error {
	type plain ModData
	return unmarshalWithExtra(b, (*plain)(p), &p.Extra)
}

func (p *SysData) MarshalJSON() ([]byte, error) {
	type plain SysData
	return marshalWithExtra((*plain)(p), p.Extra)
}

func (p *SysData) UnmarshalJSON(b []byte) error {
	type plain SysData
	return unmarshalWithExtra(b, (*plain)(p), &p.Extra)
}

func (p *BattleData) MarshalJSON() ([]byte, error) {
	type plain BattleData
	return marshalWithExtra((*plain)(p), p.Extra)
}

func (p *BattleData) UnmarshalJSON(b []byte) error {
	type plain BattleData
	return unmarshalWithExtra(b, (*plain)(p), &p.Extra)
}

func (p *CountData) MarshalJSON() ([]byte, error) {
	type plain CountData
	return marshalWithExtra((*plain)(p), p.Extra)
}

func (p *CountData) UnmarshalJSON(b []byte) error {
	type plain CountData
	return unmarshalWithExtra(b, (*plain)(p), &p.Extra)
}

// marshalWithExtra encodes v and merges the opaque keys in. Schema keys win.
func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return b, err
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(b, &known); err != nil {
		return nil, err
	}
	merged := make(map[string]json.RawMessage, len(known)+len(extra))
	for k, x := range extra {
		merged[k] = x
	}
	for k, x := range known {
		merged[k] = x
	}
	return json.Marshal(merged)
}

// unmarshalWithExtra decodes b into v and keeps every key that is not part of
// v's schema in extra. Keys matching a schema key case-insensitively are dropped,
// since encoding/json already folded them into the typed field.
func unmarshalWithExtra(b []byte, v any, extra *map[string]json.RawMessage) error {
	if err := json.Unmarshal(b, v); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	known := schemaKeys(reflect.TypeOf(v).Elem())
	for k := range all {
		if _, ok := known[strings.ToLower(k)]; ok {
			delete(all, k)
		}
	}
	if len(all) == 0 {
		*extra = nil
		return nil
	}
	*extra = all
	return nil
}

var keyCache sync.Map // reflect.Type -> map[string]struct{}

func schemaKeys(t reflect.Type) map[string]struct{} {
	if v, ok := keyCache.Load(t); ok {
		return v.(map[string]struct{})
	}
	out := make(map[string]struct{})
	collectKeys(t, out)
	keyCache.Store(t, out)
	return out
}

func collectKeys(t reflect.Type, out map[string]struct{}) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" && f.Type.Kind() == reflect.Struct {
			collectKeys(f.Type, out)
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[strings.ToLower(name)] = struct{}{}
	}
}
