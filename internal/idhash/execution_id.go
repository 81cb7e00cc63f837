package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeExecutionID computes the idempotency key of an entry trade.
// Formula: SHA256(user_id|signal_id)
// Returns hex-encoded hash (64 characters).
func ComputeExecutionID(userID, signalID string) string {
	data := fmt.Sprintf("%s|%s", userID, signalID)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeDecisionID computes a deterministic decision log id.
// Formula: SHA256(signal_id|strategy_id|stage|created_at_ns)
func ComputeDecisionID(signalID, strategyID, stage string, createdAtNs int64) string {
	data := fmt.Sprintf("%s|%s|%s|%d",
		signalID,
		strategyID,
		stage,
		createdAtNs,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
