package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string for application-owned entities.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// RecordID derives the deterministic identity of a budget line from the
// source file identity, the sheet, the 1-based spreadsheet row and the item.
// The same inputs always produce the same id. Each field is length-prefixed,
// so no field content can shift into its neighbour.
func RecordID(fileIdentity, sheet string, rowNumber int, budgetItem string) string {
	h := sha256.New()
	for _, field := range []string{fileIdentity, sheet, strconv.Itoa(rowNumber), budgetItem} {
		h.Write([]byte(strconv.Itoa(len(field))))
		h.Write([]byte{':'})
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}
