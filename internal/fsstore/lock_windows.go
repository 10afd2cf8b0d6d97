//go:build windows

package fsstore

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func lock(ctx context.Context, path string) (func(), error) {
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err == nil {
			return func() {
				_ = f.Close()
				_ = os.Remove(path)
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("mirror lock: %w", err)
		}
		if err := waitLock(ctx, path); err != nil {
			return nil, err
		}
	}
}
