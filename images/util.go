package images

import (
	"crypto/sha256"
	"encoding/hex"

	"gocv.io/x/gocv"
)

// ComputeMatChecksum returns a hex digest of a Mat's pixels, used to prove an
// image was not modified.
func ComputeMatChecksum(mat gocv.Mat) string {
	if mat.Empty() {
		return "empty"
	}

	data, err := mat.DataPtrUint8()
	if err != nil {
		// Non-continuous views have no flat buffer; hash a compact copy.
		clone := mat.Clone()
		defer clone.Close()
		data = clone.ToBytes()
	}
	return Digest(data)
}

// Digest returns the hex SHA-256 of data. Uploads are recorded by digest.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
