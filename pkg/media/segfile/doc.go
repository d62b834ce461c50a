// SPDX-License-Identifier: GPL-2.0-or-later

// Package segfile reads and writes single file recording segments.
package segfile

// Segment file layout.
// Requirements.
//   1. Packets are appended as soon as they arrive.
//   2. A file without a trailer was not finalized.
//
//
// video_<id>.seg
//   header
//   []record
//
// header {
//   magic       [4]byte "SRSG"
//   version     uint8
//   width       uint32
//   height      uint32
//   gopSize     uint16
//   maxBFrames  uint8
//   timeBaseNum uint32
//   timeBaseDen uint32
//   pixelFormat uint16 size, []byte
//   codec       uint16 size, []byte
// }
//
// record {
//   kind uint8 { packet, flush, trailer }
//
//   packet { // 21 bytes + payload.
//     flags uint8 { isKey }
//     pts   int64
//     dts   int64
//     size  uint32
//     payload []byte
//   }
//
//   trailer {
//     packetCount uint32
//   }
// }
