// Package vision decides what kind of document an uploaded ID asset is. The
// primary path asks a remote vision classifier; a deterministic filename
// heuristic guarantees a verdict when the remote call fails. The pipeline
// always gets a verdict, trading accuracy for availability.
package vision

import "context"

// Reject is the sentinel verdict for anything that is not an accepted
// government-issued identity document.
const Reject = "REJECT"

// Accepted document types. The remote classifier is instructed to answer
// with one of these or Reject; anything else is treated as inconclusive.
var acceptedTypes = map[string]bool{
	"passport":        true,
	"national_id":     true,
	"drivers_license": true,
	"government_id":   true,
}

// Methods recorded on the verdict so results show which path decided.
const (
	MethodRemote   = "remote_classifier"
	MethodFallback = "filename_heuristic"
)

// Verdict is the document classifier output consumed by the decision
// aggregator.
type Verdict struct {
	DocTypeGuess string `json:"docTypeGuess"`
	BlurLikely   bool   `json:"blurLikely"`
	GlareLikely  bool   `json:"glareLikely"`
	CropLikely   bool   `json:"cropLikely"`
	Notes        string `json:"notes,omitempty"`
	Method       string `json:"method,omitempty"`
}

// Rejected reports whether the verdict blocks completion: an explicit
// rejection or an empty guess both do.
func (v Verdict) Rejected() bool {
	return v.DocTypeGuess == "" || v.DocTypeGuess == Reject
}

// Classifier is the pluggable document classification boundary.
type Classifier interface {
	Classify(ctx context.Context, imageURL, fileName string) Verdict
}
