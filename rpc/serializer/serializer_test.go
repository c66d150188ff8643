package serializer

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/write"
	"github.com/ValentinKolb/pKV/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Put request
		{
			MsgType: common.MsgTKVPut,
			CF:      db.CFLock,
			Key:     []byte("test-key"),
			Value:   []byte("test-value"),
		},

		// DeleteRange request
		{
			MsgType: common.MsgTKVDeleteRange,
			CF:      db.CFWrite,
			Key:     []byte("a"),
			EndKey:  []byte("m"),
		},

		// Get response
		{
			MsgType: common.MsgTKVGet,
			Value:   []byte("test-value"),
			Ok:      true,
		},

		// Write response
		{
			MsgType: common.MsgTKVWrite,
			Index:   42,
		},

		// Error response
		{
			MsgType: common.MsgTError,
			Code:    partition.RetCEpochNotMatch,
			Err:     "test error message",
		},

		// Write request with encoded ops
		*common.NewWriteRequest([]write.Op{
			write.Put(db.CFDefault, []byte("k1"), []byte("v1")),
			write.Delete(db.CFLock, []byte("k2")),
		}),
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestWriteRequestOpsSurvive checks that the ops of a write request decode on the other side
func TestWriteRequestOpsSurvive(t *testing.T) {
	ops := []write.Op{
		write.Put(db.CFDefault, []byte("k1"), []byte("v1")),
		write.DeleteRange(db.CFDefault, []byte("a"), []byte("c")),
	}

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			data, err := serializer.Serialize(*common.NewWriteRequest(ops))
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}
			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}
			got, err := result.Ops()
			if err != nil {
				t.Fatalf("Failed to decode ops: %v", err)
			}
			if len(got) != len(ops) {
				t.Fatalf("Expected %d ops, got %d", len(ops), len(got))
			}
			for i := range ops {
				if got[i].Type != ops[i].Type || !bytes.Equal(got[i].Key, ops[i].Key) {
					t.Errorf("Op %d mismatch: expected %+v, got %+v", i, ops[i], got[i])
				}
			}
		})
	}
}

// TestErrorSurvivesRoundTrip checks that partition error codes reach the client
func TestErrorSurvivesRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			resp := common.NewWriteResponse(common.MsgTKVPut, write.Result{},
				partition.NewError(partition.RetCMergeRejected, 3, "merging"))

			data, err := serializer.Serialize(*resp)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}
			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			err = result.AsError()
			if partition.CodeOf(err) != partition.RetCMergeRejected {
				t.Errorf("Expected code %s, got %s (%v)", partition.RetCMergeRejected, partition.CodeOf(err), err)
			}
			if !partition.IsRetryable(err) {
				t.Errorf("Expected error to be retryable")
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for msgType := common.MsgTSuccess; msgType <= common.MsgTKVInfo; msgType++ {
				msg := common.Message{MsgType: msgType}

				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType, err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s", msgType, result.MsgType)
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Empty but non nil slices",
			msg: common.Message{
				MsgType: common.MsgTKVPut,
				Key:     []byte{},
				Value:   []byte{},
				Meta:    []byte{},
			},
		},
		{
			name: "Ok without value",
			msg: common.Message{
				MsgType: common.MsgTKVGet,
				Ok:      true,
			},
		},
		{
			name: "Raft column family",
			msg: common.Message{
				MsgType: common.MsgTKVGet,
				CF:      db.CFRaft,
				Key:     []byte("k"),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			// nil and empty slices must stay distinguishable
			if !reflect.DeepEqual(tc.msg, result) {
				t.Errorf("Mismatch after round trip:\nOriginal: %#v\nResult: %#v", tc.msg, result)
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0},
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0},
			expectError: false,
		},
		{
			name:        "Invalid length for key",
			data:        []byte{1, 0, 2, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims key length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{1, 0, 8, 0, 0, 0, 10}, // Claims value length 10 but no bytes provided
			expectError: true,
		},
		{
			name:        "Truncated index",
			data:        []byte{1, 0, 16, 0, 0, 0},
			expectError: true,
		},
		{
			name:        "Trailing bytes",
			data:        []byte{1, 0, 0, 9},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}
