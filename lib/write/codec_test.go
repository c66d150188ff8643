package write

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/ingest"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/google/uuid"
)

var testHeader = Header{
	PartitionID: 3,
	Epoch:       partition.Epoch{ConfVer: 2, Version: 9},
	Term:        5,
	ReplicaID:   1,
}

func TestEncodeDecode(t *testing.T) {
	desc := ingest.Descriptor{
		UUID:        uuid.New(),
		PartitionID: 3,
		Epoch:       testHeader.Epoch,
		CF:          db.CFWrite,
		Start:       []byte("a"),
		End:         []byte("b"),
		Length:      128,
		Checksum:    0xdeadbeef,
		NumEntries:  2,
	}

	tests := []struct {
		name string
		ops  []Op
	}{
		{"empty", nil},
		{"single put", []Op{Put(db.CFDefault, []byte("k"), []byte("v"))}},
		{"empty value", []Op{Put(db.CFLock, []byte("k"), []byte{})}},
		{"mixed order is kept", []Op{
			Put(db.CFDefault, []byte("k1"), []byte("v1")),
			Delete(db.CFDefault, []byte("k1")),
			DeleteRange(db.CFWrite, []byte("a"), []byte("z")),
			Put(db.CFDefault, []byte("k1"), []byte("v2")),
		}},
		{"ingest", []Op{Ingest(desc, desc)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := Encode(testHeader, tt.ops)

			size := HeaderSize
			for _, op := range tt.ops {
				size += op.SizeBytes()
			}
			if len(data) != size {
				t.Errorf("encoded %d bytes, expected %d", len(data), size)
			}

			h, ops, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if h != testHeader {
				t.Errorf("header = %s, want %s", h, testHeader)
			}
			if len(ops) != len(tt.ops) {
				t.Fatalf("decoded %d ops, want %d", len(ops), len(tt.ops))
			}
			for i := range ops {
				want, got := tt.ops[i], ops[i]
				if got.Type != want.Type || got.CF != want.CF ||
					!bytes.Equal(got.Key, want.Key) || !bytes.Equal(got.Value, want.Value) ||
					!bytes.Equal(got.EndKey, want.EndKey) || !reflect.DeepEqual(got.Files, want.Files) {
					t.Errorf("op %d = %s, want %s", i, got, want)
				}
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid := Encode(testHeader, []Op{Put(db.CFDefault, []byte("key"), []byte("value"))})

	badVersion := bytes.Clone(valid)
	badVersion[0] = 99

	badTag := bytes.Clone(valid)
	badTag[HeaderSize] = 42

	badCF := bytes.Clone(valid)
	badCF[HeaderSize+1] = byte(db.CFRaft)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", valid[:HeaderSize-1]},
		{"unknown version", badVersion},
		{"truncated op", valid[:len(valid)-1]},
		{"trailing bytes", append(bytes.Clone(valid), 0)},
		{"unknown op", badTag},
		{"metadata column family", badCF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Decode(tt.data); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestDecodeHeaderOnly(t *testing.T) {
	data := Encode(testHeader, []Op{Delete(db.CFDefault, []byte("k"))})
	h, err := DecodeHeader(data)
	if err != nil {
		t.Fatal(err)
	}
	if h != testHeader {
		t.Errorf("header = %s, want %s", h, testHeader)
	}
}
