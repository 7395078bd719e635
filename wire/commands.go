// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package wire

// Command is the tag carried by every framed message.
type Command string

const (
	// CmdHello is sent Relay-first, then peer-reply-with-groups.
	CmdHello Command = "HELLO"
	// CmdObj carries a user payload, in either direction.
	CmdObj Command = "OBJ"
	// CmdNtf is sent peer->Relay to signal consumer readiness.
	CmdNtf Command = "NTF"
	// CmdAck acknowledges a stamp, in either direction.
	CmdAck Command = "ACK"
)

// Targets maps a group name to a signed count, the shape used by both
// send's destination argument and notify's origins argument:
//   - count < 0 means broadcast
//   - count > 0 means produce-N / notify-for-N
//   - count == 0 is a no-op entry, kept rather than rejected (see spec's
//     open question on notify({g: 0})).
type Targets map[string]int

// NormalizeTargets accepts the three shapes the embedder-facing API allows
// for destination/origins arguments: a single group name, a slice of group
// names, or an already-built map[string]int. singleCount is the count
// applied to every entry when the input is a string or a slice (-1 for
// broadcast-style callers, 1 for produce/notify-style callers).
func NormalizeTargets(v any, singleCount int) (Targets, error) {
	switch t := v.(type) {
	case string:
		return Targets{t: singleCount}, nil
	case []string:
		out := make(Targets, len(t))
		for _, name := range t {
			out[name] = singleCount
		}
		return out, nil
	case Targets:
		return t, nil
	case map[string]int:
		return Targets(t), nil
	default:
		return nil, ErrBadDestination
	}
}
