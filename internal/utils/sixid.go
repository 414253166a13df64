package utils

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// SixIDBinarySubtype is the user-defined BSON binary subtype used for SixIDs.
const SixIDBinarySubtype byte = 0x80

// SixIDHookFunc lets tests force deterministic ids.
type SixIDHookFunc func() (id SixID, override bool)

// NewSixIDHook overrides NewSixID when set and override is true.
var NewSixIDHook SixIDHookFunc

// SixID is a 6-byte random id, rendered as 10 Crockford Base32 characters
// and stored in Mongo as binary with subtype 0x80.
type SixID [6]byte

// NewSixID returns a random SixID.
func NewSixID() SixID {
	if NewSixIDHook != nil {
		if id, override := NewSixIDHook(); override {
			return id
		}
	}
	var id SixID
	if _, err := rand.Read(id[:]); err != nil {
		return SixID{}
	}
	return id
}

const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockfordDecode [256]int8

func init() {
	for i := range crockfordDecode {
		crockfordDecode[i] = -1
	}
	for i := 0; i < len(crockfordAlphabet); i++ {
		c := crockfordAlphabet[i]
		crockfordDecode[c] = int8(i)
		crockfordDecode[strings.ToLower(string(c))[0]] = int8(i)
	}
	crockfordDecode['O'], crockfordDecode['o'] = 0, 0
	crockfordDecode['I'], crockfordDecode['i'] = 1, 1
	crockfordDecode['L'], crockfordDecode['l'] = 1, 1
}

// IsZero reports whether the id is unset. The BSON encoder uses it for omitempty.
func (u SixID) IsZero() bool {
	return u == SixID{}
}

// String returns the Crockford Base32 form, least significant bits first.
func (u SixID) String() string {
	out := make([]byte, 0, 10)
	var acc uint64
	var n uint
	for _, b := range u {
		acc |= uint64(b) << n
		n += 8
		for n >= 5 {
			out = append(out, crockfordAlphabet[acc&0x1F])
			acc >>= 5
			n -= 5
		}
	}
	if n > 0 {
		out = append(out, crockfordAlphabet[acc&0x1F])
	}
	return string(out)
}

// ParseSixID parses the Crockford Base32 form. Hyphens and spaces are ignored;
// an empty string yields the zero id.
func ParseSixID(s string) (SixID, error) {
	s = strings.NewReplacer("-", "", " ", "").Replace(s)
	if s == "" {
		return SixID{}, nil
	}
	if len(s) != 10 {
		return SixID{}, fmt.Errorf("invalid SixID %q: want 10 characters, got %d", s, len(s))
	}

	var id SixID
	var acc uint64
	var n uint
	pos := 0
	for i := 0; i < len(s); i++ {
		v := crockfordDecode[s[i]]
		if v < 0 {
			return SixID{}, fmt.Errorf("invalid SixID %q: bad character %q", s, s[i])
		}
		acc |= uint64(v) << n
		n += 5
		for n >= 8 && pos < len(id) {
			id[pos] = byte(acc)
			pos++
			acc >>= 8
			n -= 8
		}
	}
	if pos != len(id) {
		return SixID{}, fmt.Errorf("invalid SixID %q: short decode", s)
	}
	return id, nil
}

// MustParseSixID is ParseSixID for constants in tests and fixtures.
func MustParseSixID(s string) SixID {
	id, err := ParseSixID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// MarshalBSONValue stores the id as binary subtype 0x80.
func (u SixID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(primitive.Binary{Subtype: SixIDBinarySubtype, Data: u[:]})
}

// UnmarshalBSONValue accepts null (zero id) or a 6-byte binary of subtype 0x80.
func (u *SixID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	switch t {
	case bsontype.Null, bsontype.Undefined:
		*u = SixID{}
		return nil
	case bsontype.Binary:
		subtype, bin, _, ok := bsoncore.ReadBinary(data)
		if !ok {
			return errors.New("malformed BSON binary for SixID")
		}
		if subtype != SixIDBinarySubtype || len(bin) != len(u) {
			return fmt.Errorf("invalid SixID binary: subtype 0x%x, length %d", subtype, len(bin))
		}
		copy(u[:], bin)
		return nil
	default:
		return fmt.Errorf("cannot decode BSON %s into SixID", t)
	}
}

// MarshalJSON renders the id as its Crockford string.
func (u SixID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON parses a Crockford string.
func (u *SixID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSixID(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
