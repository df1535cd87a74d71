package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
)

// recognizer is the slice of the computervision client we call.
type recognizer interface {
	RecognizePrintedTextInStream(ctx context.Context, detectOrientation bool, image io.ReadCloser, language computervision.OcrLanguages) (computervision.OcrResult, error)
}

// AzureProvider runs Azure Computer Vision printed-text OCR.
type AzureProvider struct {
	client   recognizer
	language computervision.OcrLanguages
}

func NewAzureProvider(endpoint, key, language string) (*AzureProvider, error) {
	if strings.TrimSpace(endpoint) == "" || strings.TrimSpace(key) == "" {
		return nil, configError("azure.new", ErrMissingCredentials)
	}
	client := computervision.New(endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(key)

	lang := computervision.OcrLanguages(language)
	if language == "" {
		lang = computervision.OcrLanguagesUnk
	}
	return &AzureProvider{client: client, language: lang}, nil
}

func (p *AzureProvider) Recognize(ctx context.Context, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, contentError("azure.read", err)
	}
	if len(data) == 0 {
		return nil, contentError("azure.read", ErrEmptyDocument)
	}

	res, err := p.client.RecognizePrintedTextInStream(ctx, true, io.NopCloser(bytes.NewReader(data)), p.language)
	if err != nil {
		return nil, classifyAzure(ctx, err)
	}
	return flattenOcrResult(res), nil
}

// classifyAzure maps an SDK error onto our Kind taxonomy.
func classifyAzure(ctx context.Context, err error) *Error {
	const op = "azure.recognize"
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return providerError(op, fmt.Errorf("timed out: %w", err))
	}
	var de autorest.DetailedError
	if errors.As(err, &de) {
		if code, ok := de.StatusCode.(int); ok && code != 0 {
			return classifyStatus(op, code, err)
		}
	}
	// no response at all: dial, DNS or connection reset
	return providerError(op, err)
}

func classifyStatus(op string, code int, err error) *Error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return configError(op, err)
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return providerError(op, err)
	case code == http.StatusUnsupportedMediaType:
		return contentError(op, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err))
	case code >= 400:
		return contentError(op, err)
	default:
		return providerError(op, err)
	}
}

// flattenOcrResult joins each recognized line's words, regions in order.
func flattenOcrResult(res computervision.OcrResult) []string {
	if res.Regions == nil {
		return nil
	}
	var lines []string
	for _, region := range *res.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}
			words := make([]string, 0, len(*line.Words))
			for _, w := range *line.Words {
				if w.Text != nil && *w.Text != "" {
					words = append(words, *w.Text)
				}
			}
			if len(words) > 0 {
				lines = append(lines, strings.Join(words, " "))
			}
		}
	}
	return lines
}
