package store

import "fmt"

// MaxAgentIDLength caps agent identifier strings on ingested events.
const MaxAgentIDLength = 255

// ValidateAgentID rejects empty or oversized agent identifiers. The
// check runs at ingest boundaries; rows already stored are trusted.
func ValidateAgentID(id string) error {
	if id == "" {
		return fmt.Errorf("agent id is empty")
	}
	if len(id) > MaxAgentIDLength {
		return fmt.Errorf("agent id too long: %d chars (max %d)", len(id), MaxAgentIDLength)
	}
	return nil
}
