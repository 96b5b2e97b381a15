package httpresp

const (
	ErrUnauthorized       = "unauthorized"
	ErrMissingBearerToken = "bearer token is required"
	ErrInvalidToken       = "invalid token"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type UploadResponse struct {
	AttachmentID string `json:"attachment_id"`
	RetrievalURL string `json:"retrieval_url"`
}

type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewUploadResponse(attachmentID, retrievalURL string) UploadResponse {
	return UploadResponse{AttachmentID: attachmentID, RetrievalURL: retrievalURL}
}

func NewChatResponse(response, sessionID string) ChatResponse {
	return ChatResponse{Response: response, SessionID: sessionID}
}
