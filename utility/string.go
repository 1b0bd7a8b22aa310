package utility

import (
	"strconv"

	"github.com/google/uuid"
)

// ToInt converts a string to an integer, returning 0 on garbage input
func ToInt(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

func NewUUID() string {
	return uuid.New().String()
}
