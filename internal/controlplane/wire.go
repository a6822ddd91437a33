// Copyright Project Contour Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controlplane

import (
	"bytes"
	"fmt"
)

// Minimal hand-written protobuf3 wire-format helpers shared by the messages
// in this package. Generated by protoc-gen-go these would live in the
// per-file boilerplate; they are authored by hand here because no protobuf
// compiler is available in this build environment (see DESIGN.md).

const (
	wireVarint     = 0
	wireFixed64    = 1
	wireBytes      = 2
	wireStartGroup = 3
	wireEndGroup   = 4
	wireFixed32    = 5
)

func appendVarint(buf *bytes.Buffer, v uint64) {
	for v >= 0x80 {
		buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	buf.WriteByte(byte(v))
}

func appendTag(buf *bytes.Buffer, field int, wireType int) {
	appendVarint(buf, uint64(field)<<3|uint64(wireType))
}

func appendString(buf *bytes.Buffer, field int, s string) {
	if s == "" {
		return
	}
	appendTag(buf, field, wireBytes)
	appendVarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func appendBytes(buf *bytes.Buffer, field int, b []byte) {
	if len(b) == 0 {
		return
	}
	appendTag(buf, field, wireBytes)
	appendVarint(buf, uint64(len(b)))
	buf.Write(b)
}

func appendInt32(buf *bytes.Buffer, field int, v int32) {
	if v == 0 {
		return
	}
	appendTag(buf, field, wireVarint)
	appendVarint(buf, uint64(uint32(v)))
}

func appendInt64(buf *bytes.Buffer, field int, v int64) {
	if v == 0 {
		return
	}
	appendTag(buf, field, wireVarint)
	appendVarint(buf, uint64(v))
}

func appendBool(buf *bytes.Buffer, field int, v bool) {
	if !v {
		return
	}
	appendTag(buf, field, wireVarint)
	appendVarint(buf, 1)
}

func appendMessage(buf *bytes.Buffer, field int, m marshaler) error {
	body, err := m.Marshal()
	if err != nil {
		return err
	}
	appendTag(buf, field, wireBytes)
	appendVarint(buf, uint64(len(body)))
	buf.Write(body)
	return nil
}

type marshaler interface {
	Marshal() ([]byte, error)
}

// wireReader is a cursor over a serialized protobuf3 message.
type wireReader struct {
	b   []byte
	off int
}

func newWireReader(b []byte) *wireReader { return &wireReader{b: b} }

func (r *wireReader) done() bool { return r.off >= len(r.b) }

func (r *wireReader) readVarint() (uint64, error) {
	var result uint64
	var shift uint
	for {
		if r.off >= len(r.b) {
			return 0, fmt.Errorf("controlplane: truncated varint")
		}
		b := r.b[r.off]
		r.off++
		result |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("controlplane: varint overflow")
		}
	}
}

func (r *wireReader) readTag() (field int, wireType int, err error) {
	v, err := r.readVarint()
	if err != nil {
		return 0, 0, err
	}
	return int(v >> 3), int(v & 0x7), nil
}

func (r *wireReader) readBytes() ([]byte, error) {
	n, err := r.readVarint()
	if err != nil {
		return nil, err
	}
	if r.off+int(n) > len(r.b) {
		return nil, fmt.Errorf("controlplane: truncated length-delimited field")
	}
	out := r.b[r.off : r.off+int(n)]
	r.off += int(n)
	return out, nil
}

func (r *wireReader) readString() (string, error) {
	b, err := r.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *wireReader) skip(wireType int) error {
	switch wireType {
	case wireVarint:
		_, err := r.readVarint()
		return err
	case wireFixed64:
		if r.off+8 > len(r.b) {
			return fmt.Errorf("controlplane: truncated fixed64")
		}
		r.off += 8
		return nil
	case wireBytes:
		_, err := r.readBytes()
		return err
	case wireFixed32:
		if r.off+4 > len(r.b) {
			return fmt.Errorf("controlplane: truncated fixed32")
		}
		r.off += 4
		return nil
	default:
		return fmt.Errorf("controlplane: unsupported wire type %d", wireType)
	}
}
