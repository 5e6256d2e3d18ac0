package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/veritas/internal/analysis"
	"github.com/ZanzyTHEbar/veritas/internal/resilience"
)

const ollamaKeepAlive = 600

const plagiarismPrompt = `You are a sophisticated plagiarism detection tool. Analyze the text below, look for any published content that matches or closely resembles it, and report your findings.

Text to analyze:
%s

Provide:
1. A detailed analysis that highlights plagiarized sections. For each section, cite the source URL.
2. An overall plagiarism score from 0 to 100, where 100 means definite plagiarism.
3. A uniqueness score from 0 to 100, representing the percentage of original content.
4. A list of all matched snippets, including the snippet, the absolute source URL, and a similarity percentage for that snippet.

If no plagiarism is detected, the plagiarism score must be 0, the uniqueness score must be 100, and the matches array must be empty.`

// reportFormat constrains the model output to the report JSON.
var reportFormat = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"analysis": map[string]interface{}{"type": "string"},
		"plagiarismScore": map[string]interface{}{
			"type": "number", "minimum": 0, "maximum": 100,
		},
		"uniquenessScore": map[string]interface{}{
			"type": "number", "minimum": 0, "maximum": 100,
		},
		"matches": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"text":   map[string]interface{}{"type": "string"},
					"source": map[string]interface{}{"type": "string"},
					"similarity": map[string]interface{}{
						"type": "number", "minimum": 0, "maximum": 100,
					},
				},
				"required": []string{"text", "source", "similarity"},
			},
		},
	},
	"required": []string{"analysis", "plagiarismScore", "uniquenessScore", "matches"},
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string                 `json:"model"`
	Messages  []chatMessage          `json:"messages"`
	Stream    bool                   `json:"stream"`
	KeepAlive int                    `json:"keep_alive"`
	Format    map[string]interface{} `json:"format"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// OllamaDetector asks a local LLM served by Ollama to produce the report.
type OllamaDetector struct {
	baseURL string
	model   string
	pool    *resilience.ConnectionPool
}

// NewOllamaDetector creates a detector using the given Ollama endpoint and model.
func NewOllamaDetector(baseURL, model string, pool *resilience.ConnectionPool) *OllamaDetector {
	return &OllamaDetector{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		pool:    pool,
	}
}

// Name identifies the engine in logs and metrics.
func (d *OllamaDetector) Name() string {
	return "ollama"
}

// Detect prompts the model and decodes its structured answer.
func (d *OllamaDetector) Detect(ctx context.Context, req analysis.DetectionRequest) (*analysis.Report, error) {
	reqBody := chatRequest{
		Model:     d.model,
		Messages:  []chatMessage{{Role: "user", Content: fmt.Sprintf(plagiarismPrompt, req.Text)}},
		Stream:    false,
		KeepAlive: ollamaKeepAlive,
		Format:    reportFormat,
		Options: map[string]interface{}{
			"temperature": 0.0,
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	body, err := doJSON(ctx, d.pool, d.Name(), d.baseURL+"/api/chat", payload, map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		return nil, err
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}

	return analysis.ParseReport([]byte(stripCodeFence(chatResp.Message.Content)))
}

// stripCodeFence removes a ```json fence some models wrap around their output.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimPrefix(content, "json")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
