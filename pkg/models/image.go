package models

// ImagePayload is an in-memory image plus its mime type. Payloads exist only
// for the lifetime of a pipeline run (or a fast-cache entry); they are never
// written to the jobs table.
type ImagePayload struct {
	Data        []byte `json:"data"`
	ContentType string `json:"content_type"`
}

// Empty reports whether the payload carries no image bytes.
func (p ImagePayload) Empty() bool {
	return len(p.Data) == 0
}
