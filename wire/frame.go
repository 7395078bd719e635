// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package wire

import (
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultHeaderSize is the default fixed width of the ASCII decimal length
// header, matching the source implementation's default of 10 bytes.
const DefaultHeaderSize = 10

// Frame format: a fixed-width, left-justified ASCII decimal header giving
// the byte length of the body, optionally followed (peer->Relay direction
// only) by a fixed-width password field, followed by the opaque body. A
// Relay-origin frame omits the password field entirely.

// WriteRelayFrame writes a Relay->peer frame: header || body. No password.
func WriteRelayFrame(w io.Writer, headerSize int, body []byte) error {
	return writeFrame(w, headerSize, nil, body)
}

// WritePeerFrame writes a peer->Relay frame: header || password || body.
func WritePeerFrame(w io.Writer, headerSize int, password []byte, body []byte) error {
	return writeFrame(w, headerSize, password, body)
}

func writeFrame(w io.Writer, headerSize int, password []byte, body []byte) error {
	header := strconv.Itoa(len(body))
	if len(header) > headerSize {
		return errors.Wrapf(ErrFrameTooLarge, "body length %d needs %d digits, header width is %d", len(body), len(header), headerSize)
	}
	header += strings.Repeat(" ", headerSize-len(header))

	buf := make([]byte, 0, headerSize+len(password)+len(body))
	buf = append(buf, header...)
	buf = append(buf, password...)
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return errors.Wrap(err, "write frame")
}

// ReadHeader reads and parses the fixed-width length header, optionally
// bounding the read with a deadline when conn is a net.Conn.
func ReadHeader(r io.Reader, headerSize int, timeout time.Duration) (int, error) {
	if c, ok := r.(net.Conn); ok && timeout > 0 {
		_ = c.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = c.SetReadDeadline(time.Time{}) }()
	}
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, errors.Wrap(err, "read frame header")
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(buf)))
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedFrame, "non-numeric header %q", buf)
	}
	return n, nil
}

// ReadExactly reads n raw bytes, used for both the password field and the body.
func ReadExactly(r io.Reader, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "read frame payload")
	}
	return buf, nil
}

// ReadPeerFrame reads one peer->Relay frame (header, password, body) from
// the Relay's side of a connection.
func ReadPeerFrame(r io.Reader, headerSize, passwordSize int, timeout time.Duration) (password, body []byte, err error) {
	n, err := ReadHeader(r, headerSize, timeout)
	if err != nil {
		return nil, nil, err
	}
	password, err = ReadExactly(r, passwordSize)
	if err != nil {
		return nil, nil, err
	}
	body, err = ReadExactly(r, n)
	if err != nil {
		return nil, nil, err
	}
	return password, body, nil
}

// ReadRelayFrame reads one Relay->peer frame (header, body; no password)
// from the peer's side of a connection.
func ReadRelayFrame(r io.Reader, headerSize int, timeout time.Duration) ([]byte, error) {
	n, err := ReadHeader(r, headerSize, timeout)
	if err != nil {
		return nil, err
	}
	return ReadExactly(r, n)
}
