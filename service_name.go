package zcipc

import (
	"fmt"

	"github.com/google/uuid"
)

// MaxServiceNameLength is the longest service name in bytes.
const MaxServiceNameLength = 255

// ServiceName is a validated service name.
type ServiceName string

// NewServiceName validates name.
func NewServiceName(name string) (ServiceName, error) {
	if name == "" || len(name) > MaxServiceNameLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidServiceName, name)
	}
	return ServiceName(name), nil
}

func (n ServiceName) String() string { return string(n) }

// serviceNamespace scopes the name based uuids of all services.
var serviceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("gosuda.org/zcipc"))

// serviceUUID derives the uuid every process computes for the same name,
// regardless of the messaging pattern.
func serviceUUID(name ServiceName) string {
	id := uuid.NewSHA1(serviceNamespace, []byte(name))
	b, _ := id.MarshalBinary()
	return fmt.Sprintf("%x", b)
}
