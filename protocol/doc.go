// Package protocol implements the framing used by coolsocket peers to
// exchange messages over a persistent stream connection.
//
// This protocol aims to be
//
// - easy to implement
// - cheap to parse
// - directionless, either peer may send or receive at any time
// - able to carry payloads whose size is not known up front
//
// - `Frame` - One logical message as it travels on the wire.
// - `Chunk` - A piece of a frame whose total length was unspecified.
// - `Response` - A frame once it has been fully received.
//
// === General Syntax
//
// All integers are big endian.
//
// Every frame starts with an 8 byte signed length header. If the length is
// zero or positive, exactly that many payload bytes follow:
//
//   ```
//     <int64 length><payload>
//   ```
//
// === Chunked frames
//
// A length of -1 (LengthUnspecified) means the sender did not know the size
// of the payload when it began writing. The payload then follows as a sequence
// of chunks, each prefixed with a 4 byte unsigned length. A zero length chunk
// terminates the frame:
//
//   ```
//     <int64 -1>
//     <uint32 n1><n1 bytes>
//     <uint32 n2><n2 bytes>
//     <uint32 0>
//   ```
//
// Writers never emit an empty data chunk, so the terminator is unambiguous.
// Receivers concatenate the chunks and hand the caller a single Response.
//
// Any other negative length is malformed. Once a receiver has seen a malformed
// or oversized frame, or a read failed halfway through a frame, the stream can
// no longer be trusted and every later read fails with ErrBrokenStream.
//
// Note: frames are atomic with respect to each other on a stream, but there is
//       no request/response pairing. Ordering between what one peer sends and
//       what it receives is entirely up to the application.
package protocol
