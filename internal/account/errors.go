package account

import "fmt"

// NotFoundError reports an unknown account id or number.
type NotFoundError struct {
	ID     int64
	Number string
}

func (e *NotFoundError) Error() string {
	if e.Number != "" {
		return fmt.Sprintf("account %s not found", e.Number)
	}
	return fmt.Sprintf("account %d not found", e.ID)
}

// DuplicateAccountNumberError reports a uniqueness violation on the
// human-facing account number.
type DuplicateAccountNumberError struct {
	Number string
}

func (e *DuplicateAccountNumberError) Error() string {
	return fmt.Sprintf("account number %s already exists", e.Number)
}
