package bridge

import (
	"context"

	"github.com/feral-file/ff-version-index/internal/adapter"
)

// HandleMessage runs the per-message pipeline of b synchronously
func HandleMessage(ctx context.Context, b Bridge, msg adapter.Message) {
	b.(*bridge).handleMessage(ctx, msg)
}
