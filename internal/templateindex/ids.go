package templateindex

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ObjectID is the deterministic object id of a template: the class index in
// the high and the template index in the low 8 bytes.
func ObjectID(class, index int) string {
	bytes := make([]byte, 16)
	binary.BigEndian.PutUint64(bytes[:8], uint64(class))
	binary.BigEndian.PutUint64(bytes[8:], uint64(index))
	id, err := uuid.FromBytes(bytes)
	if err != nil {
		panic(err)
	}

	return id.String()
}

// ParseObjectID reverses ObjectID.
func ParseObjectID(id string) (class, index int, err error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parse object id %q", id)
	}
	return int(binary.BigEndian.Uint64(parsed[:8])), int(binary.BigEndian.Uint64(parsed[8:])), nil
}
