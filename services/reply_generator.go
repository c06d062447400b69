package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"reviewpilot-backend/logging"

	"github.com/sirupsen/logrus"
)

const (
	defaultAIAPIBase  = "https://api.openai.com/v1"
	defaultAIModel    = "gpt-4o-mini"
	replyMaxTokens    = 200
	replyTemperature  = 0.7
	maxReplyRuneCount = 700
)

// ErrEmptyCompletion is returned when the model answered with no usable text.
var ErrEmptyCompletion = errors.New("completion contained no reply text")

// AIReplyService generates short owner-voice replies to positive reviews
// through an OpenAI-compatible chat completions endpoint.
type AIReplyService struct {
	httpClient *http.Client
	apiBase    string
	apiKey     string
	model      string
	log        *logrus.Entry
}

func NewAIReplyService() *AIReplyService {
	apiBase := os.Getenv("AI_API_BASE")
	if apiBase == "" {
		apiBase = defaultAIAPIBase
	}
	model := os.Getenv("AI_MODEL")
	if model == "" {
		model = defaultAIModel
	}
	return &AIReplyService{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    strings.TrimRight(apiBase, "/"),
		apiKey:     os.Getenv("AI_API_KEY"),
		model:      model,
		log:        logging.Component("reply_generator"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GenerateReply returns a ready-to-post reply for a positive review. The
// caller decides what to do with it; nothing is persisted here.
func (s *AIReplyService) GenerateReply(ctx context.Context, reviewText string, rating int, outletName string) (string, error) {
	system := fmt.Sprintf(
		"You write replies to customer reviews on behalf of the owner of %s. "+
			"Keep it under 60 words, warm and specific to what the customer wrote. "+
			"Thank them and invite them back. No hashtags, no emojis, no sign-off.",
		outletName)

	user := fmt.Sprintf("Rating: %d out of 5.", rating)
	if strings.TrimSpace(reviewText) != "" {
		user += fmt.Sprintf(" Review: %q", reviewText)
	} else {
		user += " The customer left no text, only the rating."
	}

	reqBody := chatCompletionRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: replyTemperature,
		MaxTokens:   replyMaxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call completion endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		s.log.WithFields(logrus.Fields{
			"status":      resp.StatusCode,
			"error_class": classifyHTTPStatus(resp.StatusCode),
		}).Error("completion endpoint returned an error")
		return "", fmt.Errorf("completion endpoint: status %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	reply := strings.TrimSpace(parsed.Choices[0].Message.Content)
	reply = strings.Trim(reply, `"`)
	if reply == "" {
		return "", ErrEmptyCompletion
	}
	if runes := []rune(reply); len(runes) > maxReplyRuneCount {
		reply = strings.TrimSpace(string(runes[:maxReplyRuneCount]))
	}
	return reply, nil
}
