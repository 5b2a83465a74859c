package attach

import (
	"context"
	"fmt"
)

// ReadImage reads the full binary content of an image file and returns it as
// one data URL.
func ReadImage(ctx context.Context, f *File, maxSize int64) (string, error) {
	if f.Kind() != KindImage {
		return "", fmt.Errorf("%s (%s): %w", f.Name, f.MediaType, ErrUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := f.ReadAll(maxSize)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return DataURL(f.MediaType, data), nil
}
