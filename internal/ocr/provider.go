package ocr

import "context"

// Provider turns a document on disk into recognized text lines, top to
// bottom. Implementations return *Error.
type Provider interface {
	Recognize(ctx context.Context, path string) ([]string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, path string) ([]string, error)

func (f ProviderFunc) Recognize(ctx context.Context, path string) ([]string, error) {
	return f(ctx, path)
}
