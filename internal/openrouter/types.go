package openrouter

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Modalities []string      `json:"modalities,omitempty"`
	MaxTokens  int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []choice   `json:"choices"`
	Error   *errorBody `json:"error,omitempty"`
}

type choice struct {
	Message responseMessage `json:"message"`
}

type responseMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`

	// Images is the OpenRouter extension listing generated images; nil when
	// the field is absent from the payload.
	Images []generatedImage `json:"images"`
}

type generatedImage struct {
	Type     string   `json:"type"`
	ImageURL imageURL `json:"image_url"`
}

type errorBody struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error *errorBody `json:"error"`
}
