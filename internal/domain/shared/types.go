package shared

import "github.com/google/uuid"

// ID identifies a tracking session. New ids are random UUIDs; ids read back
// from storage or the API are taken as-is.
type ID string

// NewID returns a fresh random ID
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string {
	return string(id)
}

// IsEmpty reports whether the id is unset
func (id ID) IsEmpty() bool {
	return id == ""
}
