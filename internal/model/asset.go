package model

import "time"

// DocumentType labels an uploaded asset as an identity document or a face
// capture. An empty value means the uploader declared nothing and the asset
// classifier decides.
type DocumentType string

const (
	TypeIDDocument DocumentType = "id_document"
	TypeFacePhoto  DocumentType = "face_photo"
	TypeFaceVideo  DocumentType = "face_video"
)

// Face reports whether the type counts toward the face-asset requirement.
func (t DocumentType) Face() bool {
	return t == TypeFacePhoto || t == TypeFaceVideo
}

// DocumentAsset represents a row in the document_assets table. Assets are
// written by the upload surface and immutable here except for a one-shot
// document_type correction before gating runs.
type DocumentAsset struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"sessionId"`
	DocumentType DocumentType `json:"documentType,omitempty"`
	FileName     string       `json:"fileName"`
	MimeType     string       `json:"mimeType"`
	FileSize     int64        `json:"fileSize"`
	FileURL      string       `json:"fileUrl,omitempty"`
	ObjectKey    string       `json:"objectKey,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}
