package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashContent returns the SHA-256 hex digest of content. It is the contract
// for CodeChunk.Metadata.Hash: re-indexing identical content must reproduce
// the same hash.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ChunkID derives a deterministic chunk id from its location. Location
// (not content) is the identity of a chunk slot; Hash distinguishes its
// content within that slot.
func ChunkID(projectID, file string, startLine, endLine int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d\x00%d", projectID, file, startLine, endLine)))
	return hex.EncodeToString(sum[:16])
}
