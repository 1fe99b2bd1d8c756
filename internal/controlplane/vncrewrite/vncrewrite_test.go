// SPDX-License-Identifier: LGPL-3.0-or-later

package vncrewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteWithPlaceholdersSpecVector(t *testing.T) {
	// spec §8 scenario 3: worker template vnc_ws="wss://edge-{id}.example",
	// runner payload ws="ws://internal:6901/websockify?token=6901".
	got := RewriteWithPlaceholders("ws://internal:6901/websockify?token=6901", "wss://edge-{id}.example")
	assert.Equal(t, "wss://edge-6901.example/websockify?token=6901", got)
}

func TestRewriteWithPlaceholdersEmptyInputsPassThrough(t *testing.T) {
	assert.Equal(t, "", RewriteWithPlaceholders("", "wss://edge-{id}.example"))
	assert.Equal(t, "ws://internal:6901/x", RewriteWithPlaceholders("ws://internal:6901/x", ""))
}

func TestRewriteWithPlaceholdersMissingIDLeavesOriginal(t *testing.T) {
	original := "ws://internal:6901/websockify"
	got := RewriteWithPlaceholders(original, "wss://edge-{id}.example")
	assert.Equal(t, original, got)
}

func TestRewriteWithPlaceholdersHostAndPort(t *testing.T) {
	got := RewriteWithPlaceholders("http://127.0.0.1:6080/vnc/42?a=1", "https://{host}:9443/view/{id}")
	assert.Equal(t, "https://127.0.0.1:9443/view/42?a=1", got)
}

func TestRewriteWithPlaceholdersIdentifierFromPath(t *testing.T) {
	got := RewriteWithPlaceholders("http://127.0.0.1:6080/vnc/42", "https://edge-{id}.example")
	assert.Equal(t, "https://edge-42.example/vnc/42", got)
}

func TestRewriteWithPlaceholdersInvalidResultLeavesOriginal(t *testing.T) {
	original := "ws://internal:6901/x?id=5"
	got := RewriteWithPlaceholders(original, "/relative/{id}")
	assert.Equal(t, original, got)
}

func TestRewriteWithPathMergeNoDoublePrefix(t *testing.T) {
	got := RewriteWithPathMerge("http://127.0.0.1:6080/vnc/42", "https://edge.example/vnc/42", "42")
	assert.Equal(t, "https://edge.example/vnc/42?target_port=6080", got)
}

func TestRewriteWithPathMergePreservesExistingTargetPort(t *testing.T) {
	got := RewriteWithPathMerge("http://127.0.0.1:6080/vnc/42?target_port=9999", "https://edge.example/vnc/42", "42")
	assert.Equal(t, "https://edge.example/vnc/42?target_port=9999", got)
}

func TestRewriteWithPathMergeEmptyTemplatePassesThrough(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:6080/x", RewriteWithPathMerge("http://127.0.0.1:6080/x", "", "42"))
}

func TestMergeVNCPathsAppendsNonOverlapping(t *testing.T) {
	assert.Equal(t, "/vnc/42", mergeVNCPaths("/vnc", "/42"))
	assert.Equal(t, "/vnc/42", mergeVNCPaths("/vnc/42", "/vnc/42"))
	assert.Equal(t, "/", mergeVNCPaths("", "/"))
}
