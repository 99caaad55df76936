package vision

import (
	"context"

	"go.uber.org/zap"
)

// remoteSource is what the composite needs from the remote path. Extracted so
// tests can stand in for the HTTP client.
type remoteSource interface {
	Classify(ctx context.Context, imageURL, fileName string) (Verdict, error)
}

// DocumentClassifier tries the remote classifier first and falls back to the
// filename heuristic whenever the remote path yields no verdict.
type DocumentClassifier struct {
	remote remoteSource
	logger *zap.Logger
}

// NewDocumentClassifier builds the composite. remote may be nil (no endpoint
// configured), in which case every call uses the heuristic.
func NewDocumentClassifier(remote *RemoteClient, logger *zap.Logger) *DocumentClassifier {
	dc := &DocumentClassifier{logger: logger}
	if remote != nil {
		dc.remote = remote
	}
	return dc
}

func (d *DocumentClassifier) Classify(ctx context.Context, imageURL, fileName string) Verdict {
	if d.remote != nil && imageURL != "" {
		verdict, err := d.remote.Classify(ctx, imageURL, fileName)
		if err == nil {
			return verdict
		}
		// Classifier outages are absorbed here; the pipeline must still
		// reach a verdict.
		d.logger.Warn("remote classifier unavailable, using filename heuristic",
			zap.Error(err), zap.String("file_name", fileName))
	}
	return FallbackVerdict(fileName)
}
