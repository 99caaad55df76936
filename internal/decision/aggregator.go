package decision

import (
	"time"

	"veriflow/internal/model"
	"veriflow/internal/vision"
)

// Failure reasons, in priority order. Exactly one is attached to a failed
// session; a completed session carries none.
const (
	ReasonMissingAssets    = "Missing required documents or face assets"
	ReasonDocumentRejected = "Document rejected by classifier"
	ReasonDocTooSmall      = "ID document file size too small (needs at least 10KB)"
	ReasonFaceTooSmall     = "Face image file size too small (needs at least 1KB)"
)

// Confidence constants attached to the results payload. These are coarse
// categorical proxies derived from the decision, not calibrated
// probabilities, and nothing downstream gates on them.
const (
	confidenceCompleted = 0.8
	confidenceFailed    = 0.2
)

// AssetSummary is one entry of the asset manifest embedded in the results.
type AssetSummary struct {
	FileName     string             `json:"fileName"`
	DocumentType model.DocumentType `json:"documentType"`
	FileSize     int64              `json:"fileSize"`
	Category     string             `json:"category"`
}

// Results is the structured decision output persisted on the session and
// shipped in the webhook payload.
type Results struct {
	Method        string         `json:"method"`
	DocumentCount int            `json:"documentCount"`
	FaceCount     int            `json:"faceCount"`
	Assets        []AssetSummary `json:"assets"`
	ProcessedAt   time.Time      `json:"processedAt"`
	Confidence    float64        `json:"confidence"`
	Quality       QualityReport  `json:"quality"`
	Classifier    vision.Verdict `json:"classifier"`
}

// Outcome is the aggregated decision.
type Outcome struct {
	Status        model.SessionStatus
	FailureReason string
	Results       Results
}

// Aggregate combines the gate report and the classifier verdict into the
// final status. Completed requires the counts to pass, both size checks to
// pass and a non-empty, non-rejected verdict; everything else fails with the
// highest-priority reason.
func Aggregate(breakdown AssetBreakdown, report QualityReport, verdict vision.Verdict, now time.Time) Outcome {
	report.BlurLikely = verdict.BlurLikely
	report.GlareLikely = verdict.GlareLikely
	report.CropLikely = verdict.CropLikely

	countsPass := report.DocumentPresent && report.FacePresent
	passed := countsPass && report.DocFileSizeOK && report.FaceFileSizeOK && !verdict.Rejected()

	var reason string
	if !passed {
		switch {
		case !countsPass:
			reason = ReasonMissingAssets
		case verdict.Rejected():
			reason = ReasonDocumentRejected
			if verdict.Notes != "" {
				reason += ": " + verdict.Notes
			}
		case !report.DocFileSizeOK:
			reason = ReasonDocTooSmall
		default:
			reason = ReasonFaceTooSmall
		}
	}

	status := model.StatusCompleted
	confidence := confidenceCompleted
	if !passed {
		status = model.StatusFailed
		confidence = confidenceFailed
	}

	results := Results{
		Method:        verdict.Method,
		DocumentCount: breakdown.DocCount,
		FaceCount:     breakdown.FaceCount,
		Assets:        manifest(breakdown),
		ProcessedAt:   now.UTC(),
		Confidence:    confidence,
		Quality:       report,
		Classifier:    verdict,
	}

	return Outcome{Status: status, FailureReason: reason, Results: results}
}

func manifest(breakdown AssetBreakdown) []AssetSummary {
	summaries := make([]AssetSummary, 0, len(breakdown.Assets))
	for _, ca := range breakdown.Assets {
		category := "document"
		if ca.FinalType.Face() {
			category = "face"
		}
		summaries = append(summaries, AssetSummary{
			FileName:     ca.Asset.FileName,
			DocumentType: ca.FinalType,
			FileSize:     ca.Asset.FileSize,
			Category:     category,
		})
	}
	return summaries
}
