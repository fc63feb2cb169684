package queue

const (
	TypeSttTranscribe = "stt:transcribe"
)

// SttTranscribePayload carries everything a worker needs to drive one
// transcription job to completion.
type SttTranscribePayload struct {
	Key       string   `json:"key"`
	UserID    string   `json:"user_id"`
	FileID    string   `json:"file_id"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model,omitempty"`
	Languages []string `json:"languages,omitempty"`
}
