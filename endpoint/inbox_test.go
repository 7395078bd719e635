// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInboxPopRemovesOldestFirst(t *testing.T) {
	b := newInbox()
	b.push([]byte("1"))
	b.push([]byte("2"))
	b.push([]byte("3"))

	got := b.pop(2, false)
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, got)
	assert.Equal(t, [][]byte{[]byte("3")}, b.buf)
}

func TestInboxPopLIFORemovesNewestFirst(t *testing.T) {
	b := newInbox()
	b.push([]byte("1"))
	b.push([]byte("2"))
	b.push([]byte("3"))

	got := b.popLIFO(2, false, false)
	assert.Equal(t, [][]byte{[]byte("3"), []byte("2")}, got)
	assert.Equal(t, [][]byte{[]byte("1")}, b.buf)
}

func TestInboxPopLIFOClearEmptiesWholeBuffer(t *testing.T) {
	b := newInbox()
	b.push([]byte("1"))
	b.push([]byte("2"))

	got := b.popLIFO(1, true, false)
	assert.Equal(t, [][]byte{[]byte("2")}, got)
	assert.Empty(t, b.buf, "clear=true empties the buffer even though only 1 item was requested")
}

func TestInboxGetLastIsNonDestructive(t *testing.T) {
	b := newInbox()
	b.push([]byte("1"))
	b.push([]byte("2"))

	got := b.getLast(1, false)
	assert.Equal(t, [][]byte{[]byte("2")}, got)
	assert.Len(t, b.buf, 2, "getLast must not remove anything")
}

func TestInboxReceiveAllDrainsEverything(t *testing.T) {
	b := newInbox()
	b.push([]byte("1"))
	b.push([]byte("2"))

	got := b.receiveAll(false)
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, got)
	assert.Empty(t, b.buf)
}
