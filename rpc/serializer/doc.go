// Package serializer converts common.Message values to the bytes sent by a transport.
// The ops of a write request travel pre-encoded in Message.Meta (see lib/write), so every
// serializer only deals with flat byte fields, the column family, the log index and the
// partition error code.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format. A 16 bit flag word marks the present
//     fields, so a Put request only carries its column family, key and value. Nil and
//     empty byte fields stay distinguishable.
//
//   - gobSerializerImpl: Go's gob encoding. Empty byte fields arrive as nil.
//
//   - jsonSerializerImpl: Implementation using JSON encoding, useful for debugging
//     or interoperability with other systems, but with lower performance.
//
// Performance Characteristics (based on benchmarks across various message types):
//
//   - Binary: Smallest payloads and fastest encoding, the default of the cli.
//
//   - JSON: Offers acceptable performance with moderate payload sizes. Provides human-readable
//     output beneficial for debugging and system integration scenarios.
//
//   - GOB: Every message carries its type description, which makes it the slowest and
//     largest of the three.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	Serializers are typically created once and reused throughout the application:
//
//	  serializer := serializer.NewBinarySerializer()
//	  data, err := serializer.Serialize(message)
//	  // ... send data ...
//	  var receivedMsg common.Message
//	  err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
