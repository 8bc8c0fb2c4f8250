// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	// maxHeaderBytes bounds the header block. Real headers are a few dozen
	// bytes; anything larger means the stream is not framed at all.
	maxHeaderBytes = 4096

	contentLengthHeader = "Content-Length"
)

var headerTerminator = []byte("\r\n\r\n")

// encodeFrame prefixes payload with its Content-Length header.
func encodeFrame(payload []byte) []byte {
	header := fmt.Sprintf("%s: %d\r\n\r\n", contentLengthHeader, len(payload))
	frame := make([]byte, 0, len(header)+len(payload))
	frame = append(frame, header...)
	return append(frame, payload...)
}

// frameDecoder is the framing accumulator fed by the stdout reader.
//
// Bytes arrive in arbitrary chunks; Next yields complete payloads in order.
// Not safe for concurrent use: only the dispatcher touches it.
type frameDecoder struct {
	buf []byte
}

// Feed appends a chunk read from the oracle's output stream.
func (d *frameDecoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Buffered returns the number of bytes not yet consumed by Next.
func (d *frameDecoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete payload.
//
// Outputs:
//
//	payload - The JSON payload, valid only when ok is true
//	ok - False when more bytes are needed
//	err - A *FramingError when the stream is malformed
func (d *frameDecoder) Next() (payload []byte, ok bool, err error) {
	end := bytes.Index(d.buf, headerTerminator)
	if end < 0 {
		if len(d.buf) > maxHeaderBytes {
			return nil, false, &FramingError{Reason: fmt.Sprintf("no header terminator within %d bytes", maxHeaderBytes)}
		}
		return nil, false, nil
	}
	if end > maxHeaderBytes {
		return nil, false, &FramingError{Reason: fmt.Sprintf("header block of %d bytes exceeds %d", end, maxHeaderBytes)}
	}

	length, err := parseContentLength(d.buf[:end])
	if err != nil {
		return nil, false, err
	}

	bodyStart := end + len(headerTerminator)
	if len(d.buf)-bodyStart < length {
		return nil, false, nil
	}

	payload = make([]byte, length)
	copy(payload, d.buf[bodyStart:bodyStart+length])
	d.buf = append(d.buf[:0], d.buf[bodyStart+length:]...)

	if !json.Valid(payload) {
		return nil, false, &FramingError{Reason: fmt.Sprintf("payload of %d bytes is not valid JSON", length)}
	}
	return payload, true, nil
}

// parseContentLength extracts Content-Length from a header block.
// Header names are case-insensitive; unknown headers are ignored.
func parseContentLength(block []byte) (int, error) {
	length := -1
	for _, line := range strings.Split(string(block), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			return 0, &FramingError{Reason: fmt.Sprintf("malformed header line %q", line)}
		}
		if !strings.EqualFold(strings.TrimSpace(name), contentLengthHeader) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, &FramingError{Reason: "invalid Content-Length", Err: err}
		}
		if n < 0 {
			return 0, &FramingError{Reason: fmt.Sprintf("negative Content-Length %d", n)}
		}
		length = n
	}
	if length < 0 {
		return 0, &FramingError{Reason: "missing Content-Length header"}
	}
	return length, nil
}
