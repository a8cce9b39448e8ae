package document

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectID is a unique 12-byte identifier assigned to documents inserted
// without an _id.
// Structure: [4-byte timestamp][5-byte random][3-byte counter]
type ObjectID [12]byte

var objectIDCounter atomic.Uint32
var processUnique [5]byte

func init() {
	// Generate process-unique random bytes once at startup
	rand.Read(processUnique[:])

	var seed [4]byte
	rand.Read(seed[:])
	objectIDCounter.Store(binary.BigEndian.Uint32(seed[:]))
}

// NewObjectID generates a new ObjectID
func NewObjectID() ObjectID {
	var id ObjectID

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], processUnique[:])

	counter := objectIDCounter.Add(1)
	id[9] = byte(counter >> 16)
	id[10] = byte(counter >> 8)
	id[11] = byte(counter)

	return id
}

// ObjectIDFromHex creates an ObjectID from a hex string
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID

	if len(s) != 24 {
		return id, fmt.Errorf("%w: invalid ObjectID hex string length: %d", ErrValidation, len(s))
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: invalid ObjectID hex string: %v", ErrValidation, err)
	}

	copy(id[:], b)
	return id, nil
}

// Hex returns the hex string representation of the ObjectID
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String returns the string representation of the ObjectID
func (id ObjectID) String() string {
	return id.Hex()
}

// Timestamp returns the creation time encoded in the ObjectID
func (id ObjectID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0)
}

// IsZero returns true if the ObjectID is the zero value
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}
