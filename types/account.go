package types

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeyLen is the fixed width of addresses and owner keys.
const PubkeyLen = 32

// Pubkey identifies an account or an owning program.
type Pubkey [PubkeyLen]byte

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// PubkeyFromBase58 parses a base58-rendered key.
func PubkeyFromBase58(s string) (Pubkey, error) {
	var pk Pubkey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("failed to decode base58 pubkey: %w", err)
	}
	if len(raw) != PubkeyLen {
		return pk, fmt.Errorf("invalid pubkey length: %d", len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// PubkeyFromBytes copies raw into a Pubkey.
func PubkeyFromBytes(raw []byte) (Pubkey, error) {
	var pk Pubkey
	if len(raw) != PubkeyLen {
		return pk, fmt.Errorf("invalid pubkey length: %d", len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// AccountRecord is one immutable version of an account. A new balance or
// data payload is always a new record; records are never mutated in place.
type AccountRecord struct {
	Address    Pubkey `json:"address"`
	Owner      Pubkey `json:"owner"`
	Lamports   uint64 `json:"lamports"`
	Data       []byte `json:"data"`
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rent_epoch"`
}

// Clone returns a deep copy so callers can hold the record past the
// lifetime of the buffer it was decoded from.
func (r *AccountRecord) Clone() *AccountRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Data != nil {
		out.Data = make([]byte, len(r.Data))
		copy(out.Data, r.Data)
	}
	return &out
}
