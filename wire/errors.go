// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package wire

import "github.com/pkg/errors"

var (
	// ErrKilled names the StateKilled outcome of a connection. No function
	// in this module returns it; a killed connection is logged and closed.
	ErrKilled = errors.New("connection killed")
	// ErrBadPassword is raised when the password field of a peer-origin frame
	// does not match the Relay's configured password.
	ErrBadPassword = errors.New("bad password")
	// ErrPolicyRejected is returned by Router.Admit at handshake time when a
	// declared group name is not allowed by the configured group policy, or
	// a group's max_count would be exceeded. A send to a disallowed group is
	// logged and skipped without an error.
	ErrPolicyRejected = errors.New("group policy rejected")
	// ErrMalformedFrame is returned for a non-numeric frame header. A codec
	// Unmarshal failure is reported with the codec's own error instead.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownCommand is raised for a command tag outside HELLO/OBJ/NTF/ACK.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNotConnected names the no-live-connection condition. No function in
	// this module returns it: Endpoint calls made while disconnected go to
	// the offline store and return nil.
	ErrNotConnected = errors.New("not connected")
	// ErrUnknownGroup names a group a restricted-mode policy never declared.
	// No function in this module returns it: Router.Admit reports such a
	// group with ErrPolicyRejected, and a send to it is logged and skipped.
	ErrUnknownGroup = errors.New("unknown group")
	// ErrBadDestination is returned synchronously at the API boundary for a
	// malformed destination/origin argument, before any I/O is attempted.
	ErrBadDestination = errors.New("destination must be a group name, a slice of group names, or a map[string]int")
	// ErrFrameTooLarge is returned when a frame body would not fit the
	// configured ASCII decimal header width.
	ErrFrameTooLarge = errors.New("frame body exceeds header width capacity")
)
