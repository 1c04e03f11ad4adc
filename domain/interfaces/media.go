package interfaces

import (
	"context"

	"spectra/domain/entities"
)

// MediaAnalyzer is the media perception boundary. The orchestrator
// treats a nil analyzer as a disabled component.
type MediaAnalyzer interface {
	// Analyze inspects an image (PNG bytes) and describes its content.
	Analyze(ctx context.Context, image []byte) (entities.MediaAnalysis, error)
}
