package model

type CreateSessionRequest struct {
	Title string `json:"title"`
}

type UpdateTitleRequest struct {
	Title string `json:"title" binding:"required"`
}

// DraftTextRequest setDraftText，文本不做校验
type DraftTextRequest struct {
	Text string `json:"text"`
}

// DraftImageRequest JSON 方式上传图片，data 可以是纯 base64 或 data: URL
type DraftImageRequest struct {
	Data     string `json:"data" binding:"required"`
	MIMEType string `json:"mime_type"`
}

type MenuRequest struct {
	Open bool `json:"open"`
}

// SubmitRequest 为空时提交会话中保存的草稿
type SubmitRequest struct {
	Text  *string            `json:"text"`
	Image *DraftImageRequest `json:"image"`
}
