package segment

import (
	"encoding/binary"
	"fmt"

	"accountsdb/types"
)

// Stored record layout, little-endian, fixed header followed by the data
// payload. The header offsets are fixed so a record can be decoded straight
// out of a segment file without a self-describing envelope.
//
//	write_version u64
//	slot          u64
//	data_len      u32
//	address       32 bytes
//	owner         32 bytes
//	lamports      u64
//	rent_epoch    u64
//	executable    u8
//	data          data_len bytes
const storedHeaderLen = 8 + 8 + 4 + types.PubkeyLen + types.PubkeyLen + 8 + 8 + 1

// StoredRecord is an account record together with the version coordinates
// it was written under.
type StoredRecord struct {
	Slot         uint64
	WriteVersion uint64
	Record       types.AccountRecord
}

// MarshalStored serializes a stored record into the segment wire form.
func MarshalStored(sr *StoredRecord) []byte {
	buf := make([]byte, storedHeaderLen+len(sr.Record.Data))
	binary.LittleEndian.PutUint64(buf[0:8], sr.WriteVersion)
	binary.LittleEndian.PutUint64(buf[8:16], sr.Slot)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(sr.Record.Data)))
	off := 20
	copy(buf[off:off+types.PubkeyLen], sr.Record.Address[:])
	off += types.PubkeyLen
	copy(buf[off:off+types.PubkeyLen], sr.Record.Owner[:])
	off += types.PubkeyLen
	binary.LittleEndian.PutUint64(buf[off:off+8], sr.Record.Lamports)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], sr.Record.RentEpoch)
	off += 8
	if sr.Record.Executable {
		buf[off] = 1
	}
	off++
	copy(buf[off:], sr.Record.Data)
	return buf
}

// UnmarshalStored decodes a stored record from the segment wire form. The
// returned record owns its data slice.
func UnmarshalStored(buf []byte) (*StoredRecord, error) {
	if len(buf) < storedHeaderLen {
		return nil, fmt.Errorf("stored record too short: %d bytes", len(buf))
	}
	sr := &StoredRecord{
		WriteVersion: binary.LittleEndian.Uint64(buf[0:8]),
		Slot:         binary.LittleEndian.Uint64(buf[8:16]),
	}
	dataLen := binary.LittleEndian.Uint32(buf[16:20])
	if int(dataLen) != len(buf)-storedHeaderLen {
		return nil, fmt.Errorf("stored record data length mismatch: header says %d, have %d", dataLen, len(buf)-storedHeaderLen)
	}
	off := 20
	copy(sr.Record.Address[:], buf[off:off+types.PubkeyLen])
	off += types.PubkeyLen
	copy(sr.Record.Owner[:], buf[off:off+types.PubkeyLen])
	off += types.PubkeyLen
	sr.Record.Lamports = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	sr.Record.RentEpoch = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	sr.Record.Executable = buf[off] == 1
	off++
	if dataLen > 0 {
		sr.Record.Data = make([]byte, dataLen)
		copy(sr.Record.Data, buf[off:])
	}
	return sr, nil
}
