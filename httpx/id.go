package httpx

import (
	"context"

	"github.com/google/uuid"
)

// exchangeID returns the ID carried by ctx, or a new random UUID.
func exchangeID(ctx context.Context) string {
	if id, ok := RequestIDFrom(ctx); ok {
		return id
	}
	return uuid.NewString()
}
