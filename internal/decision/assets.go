// Package decision holds the pure pipeline logic: asset classification,
// minimum submission gating and the final pass/fail aggregation. Nothing in
// here touches the network or the database.
package decision

import (
	"strings"

	"veriflow/internal/model"
)

var (
	documentKeywords = []string{"passport", "license", "id", "card", "document", "national"}
	faceKeywords     = []string{"face", "selfie", "photo", "capture", "liveness"}
)

// ClassifiedAsset pairs an asset with its finalized type. Corrected is set
// when the uploader declared nothing and the classifier filled the type in.
type ClassifiedAsset struct {
	Asset     model.DocumentAsset
	FinalType model.DocumentType
	Corrected bool
}

// AssetBreakdown is the classified view of a session's uploads.
type AssetBreakdown struct {
	Assets    []ClassifiedAsset
	DocCount  int
	FaceCount int
	FirstDoc  *model.DocumentAsset
	FirstFace *model.DocumentAsset
}

// FinalizeType resolves the authoritative type for one asset: the declared
// type wins outright; otherwise MIME inference applies (video -> face_video,
// anything else defaults to id_document) and a filename keyword can override
// the default. Pure function of its input.
func FinalizeType(a model.DocumentAsset) model.DocumentType {
	if a.DocumentType != "" {
		return a.DocumentType
	}

	inferred := model.TypeIDDocument
	if strings.HasPrefix(a.MimeType, "video/") {
		inferred = model.TypeFaceVideo
	}

	name := strings.ToLower(a.FileName)
	for _, kw := range documentKeywords {
		if strings.Contains(name, kw) {
			return model.TypeIDDocument
		}
	}
	for _, kw := range faceKeywords {
		if strings.Contains(name, kw) {
			return model.TypeFacePhoto
		}
	}
	return inferred
}

// ClassifyAssets finalizes every asset type and tallies the document and face
// counters the requirement gate runs on.
func ClassifyAssets(assets []model.DocumentAsset) AssetBreakdown {
	var b AssetBreakdown
	for _, a := range assets {
		final := FinalizeType(a)
		b.Assets = append(b.Assets, ClassifiedAsset{
			Asset:     a,
			FinalType: final,
			Corrected: a.DocumentType == "",
		})
		if final.Face() {
			b.FaceCount++
			if b.FirstFace == nil {
				asset := a
				b.FirstFace = &asset
			}
		} else {
			b.DocCount++
			if b.FirstDoc == nil {
				asset := a
				b.FirstDoc = &asset
			}
		}
	}
	return b
}
