package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// identityBucket is the time window within which re-submitting the same photo
// maps to the same request identity.
const identityBucket = time.Hour

// DeriveRequestID produces a deterministic identity from the image content,
// the user, and the hour the photo was captured in. The same photo sent twice
// inside one bucket dedupes naturally; the same photo on a later day is a new
// request.
func DeriveRequestID(userID int64, capturedAt time.Time, image []byte) string {
	imageSum := sha256.Sum256(image)
	bucket := capturedAt.UTC().Truncate(identityBucket).Unix()
	payload := fmt.Sprintf("%d:%d:%s", userID, bucket, hex.EncodeToString(imageSum[:]))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
