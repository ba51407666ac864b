package model

// GenerateContentRequest generateContent 请求体
type GenerateContentRequest struct {
	Contents []Content `json:"contents"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part 文本或内联数据，二者只出现一个
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Prompt 一次单轮请求的输入
type Prompt struct {
	Text  string
	Image *Image
}
