package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/vetsync/pkg/db"
)

// Base is embedded by the local store repositories.
type Base struct {
	client *db.Client
}

func NewBase(client *db.Client) Base {
	return Base{client: client}
}

// DB returns the connection bound to ctx. A nil ctx yields the raw connection.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.client.DB()
	}
	return b.client.DB().WithContext(ctx)
}

// Tx runs fn in a transaction. fn must only use tx.
func (b Base) Tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return b.client.WithTx(ctx, fn)
}
