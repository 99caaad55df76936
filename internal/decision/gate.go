package decision

import "veriflow/internal/model"

// Minimum byte sizes an asset must exceed (strictly) to pass the gate.
const (
	MinDocumentBytes = 10_000
	MinFaceBytes     = 1_000
)

// QualityReport carries the requirement-gate flags plus the image quality
// slots filled in from the classifier verdict. Always produced synchronously.
type QualityReport struct {
	DocumentPresent bool `json:"documentPresent"`
	FacePresent     bool `json:"facePresent"`
	DocFileSizeOK   bool `json:"docFileSizeOK"`
	FaceFileSizeOK  bool `json:"faceFileSizeOK"`
	BlurLikely      bool `json:"blurLikely"`
	GlareLikely     bool `json:"glareLikely"`
	CropLikely      bool `json:"cropLikely"`
}

// EvaluateRequirements checks minimum counts and byte-size thresholds. A size
// flag stays true when the corresponding asset class is absent; the presence
// flags already fail the submission in that case.
func EvaluateRequirements(docCount, faceCount int, firstDoc, firstFace *model.DocumentAsset) QualityReport {
	report := QualityReport{
		DocumentPresent: docCount >= 1,
		FacePresent:     faceCount >= 1,
		DocFileSizeOK:   true,
		FaceFileSizeOK:  true,
	}
	if firstDoc != nil {
		report.DocFileSizeOK = firstDoc.FileSize > MinDocumentBytes
	}
	if firstFace != nil {
		report.FaceFileSizeOK = firstFace.FileSize > MinFaceBytes
	}
	return report
}
