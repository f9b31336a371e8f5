package repositories

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationExists   = errors.New("conversation already exists")
	ErrMessageNotFound      = errors.New("message not found")
	ErrMessageExists        = errors.New("message already exists")
)

const uniqueViolation = pq.ErrorCode("23505")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// conflictAs replaces a unique violation with the given sentinel.
func conflictAs(err error, sentinel error) error {
	if isUniqueViolation(err) {
		return sentinel
	}
	return err
}
