package outbox

import (
	"strings"

	"github.com/google/uuid"
)

// operation-id namespace; changing it would re-apply previously acknowledged
// mutations, so it is fixed forever.
var operationNamespace = uuid.MustParse("5f2c61f0-9d7a-4b0e-8c53-2f6f2c1d9ab4")

// OperationID derives a deterministic idempotency key from the parts that
// identify a logical mutation, e.g. user, entity and action. Enqueueing the
// same intent twice therefore yields the same key, making the retry a no-op.
func OperationID(parts ...string) string {
	return uuid.NewSHA1(operationNamespace, []byte(strings.Join(parts, "\x1f"))).String()
}
