package analyzer

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/k3a/html2text"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/httpclient"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
)

// Gemini defaults.
const (
	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiTimeout  = 60 * time.Second

	providerGemini = "gemini"
	apiKeyHeader   = "x-goog-api-key"
)

const pipePrompt = `You are an expert in industrial logistics and inventory management. Your task is to analyze this image of stacked industrial pipes.

Instructions:
1. Identify every single visible pipe end.
2. For each pipe, classify its size as 'Small', 'Medium', 'Large', or 'Unknown' if you cannot determine it.
3. Provide the bounding box coordinates for each pipe. The coordinates (x, y, width, height) must be percentages of the total image dimensions (e.g., x: 50 means the box starts at 50% from the left).
4. Provide a confidence score (0.0 to 1.0) for each individual pipe detection.
5. Provide an overall confidence score (0.0 to 1.0) for the entire analysis.
6. Provide a brief summary of the findings in the 'notes' field.

Return the data ONLY in the structured JSON format defined by the schema. Do not include any other text or markdown formatting.`

// GeminiConfig configures GeminiAnalyzer. Zero values take defaults.
type GeminiConfig struct {
	APIKey    string
	Model     string
	Endpoint  string
	Timeout   time.Duration
	RateLimit float64 // requests per second; 0 disables limiting
}

// GeminiAnalyzer calls the Gemini generateContent REST endpoint with a JSON
// response schema describing pipe detections.
type GeminiAnalyzer struct {
	client  *httpclient.Client
	cfg     GeminiConfig
	limiter *rate.Limiter
	log     logger.Logger
	now     func() time.Time
}

// NewGemini returns an analyzer posting through client.
func NewGemini(client *httpclient.Client, cfg GeminiConfig, log logger.Logger) (*GeminiAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, errors.Newf("gemini analyzer requires an API key").
			Component("analyzer").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGeminiEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGeminiTimeout
	}
	if log == nil {
		log = logger.Global().Module("analyzer")
	}

	g := &GeminiAnalyzer{client: client, cfg: cfg, log: log, now: time.Now}
	if cfg.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return g, nil
}

// Model returns the model version stamped on produced records.
func (g *GeminiAnalyzer) Model() string { return g.cfg.Model }

// Analyze implements Analyzer.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, image []byte, loc *model.Location) (*model.AnalysisRecord, error) {
	if len(image) == 0 {
		return nil, Failed(fmt.Errorf("empty image"), providerGemini)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, errors.New(err).
				Component("analyzer").
				Category(errors.CategoryAnalysis).
				Context("operation", "rate_limiter_wait").
				UserMessage(FailureMessage).
				Build()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	url := fmt.Sprintf("%s/models/%s:generateContent", g.cfg.Endpoint, g.cfg.Model)
	body, err := g.client.PostJSON(ctx, url, g.requestBody(image), map[string]string{apiKeyHeader: g.cfg.APIKey})
	if err != nil {
		g.log.Warn("gemini request failed",
			logger.String("model", g.cfg.Model),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		return nil, Failed(err, providerGemini)
	}

	detections, confidence, notes, err := parseResponse(body)
	if err != nil {
		g.log.Warn("gemini response could not be decoded", logger.Error(err))
		return nil, Failed(err, providerGemini)
	}

	rec := model.NewAIRecord(image, loc, detections, confidence, notes, g.cfg.Model, g.now())
	g.log.Debug("image analyzed",
		logger.String("record_id", rec.ID),
		logger.Int("pipes", rec.Counts.Total),
		logger.Float64("confidence", rec.Confidence),
		logger.Duration("elapsed", time.Since(start)))
	return &rec, nil
}

func (g *GeminiAnalyzer) requestBody(image []byte) map[string]any {
	return map[string]any{
		"contents": []any{
			map[string]any{
				"parts": []any{
					map[string]any{"inlineData": map[string]any{
						"mimeType": imageMIMEType(image),
						"data":     base64.StdEncoding.EncodeToString(image),
					}},
					map[string]any{"text": pipePrompt},
				},
			},
		},
		"generationConfig": map[string]any{
			"responseMimeType": "application/json",
			"responseSchema":   pipeSchema,
		},
	}
}

// imageMIMEType sniffs the upload, falling back to JPEG which is what the
// camera produces.
func imageMIMEType(image []byte) string {
	if ct := http.DetectContentType(image); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}

var pipeSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"pipes": map[string]any{
			"type":        "ARRAY",
			"description": "An array of all detected pipe objects in the image.",
			"items": map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"size": map[string]any{
						"type":        "STRING",
						"enum":        []string{"Small", "Medium", "Large", "Unknown"},
						"description": "The classified size of the pipe.",
					},
					"boundingBox": map[string]any{
						"type":        "OBJECT",
						"description": "The bounding box coordinates as percentages of image dimensions.",
						"properties": map[string]any{
							"x":      map[string]any{"type": "NUMBER", "description": "Percentage from the left edge."},
							"y":      map[string]any{"type": "NUMBER", "description": "Percentage from the top edge."},
							"width":  map[string]any{"type": "NUMBER", "description": "Width as a percentage."},
							"height": map[string]any{"type": "NUMBER", "description": "Height as a percentage."},
						},
						"required": []string{"x", "y", "width", "height"},
					},
					"confidence": map[string]any{
						"type":        "NUMBER",
						"description": "A value between 0.0 and 1.0 representing the model's confidence in this specific detection.",
					},
				},
				"required": []string{"size", "boundingBox", "confidence"},
			},
		},
		"overallConfidence": map[string]any{
			"type":        "NUMBER",
			"description": "A value between 0.0 and 1.0 representing the overall confidence in the accuracy of the entire analysis.",
		},
		"notes": map[string]any{
			"type":        "STRING",
			"description": "A brief, human-readable summary of the findings, including total counts for each size.",
		},
	},
	"required": []string{"pipes", "overallConfidence", "notes"},
}

// parseResponse extracts detections from a generateContent envelope. The
// model's answer is a JSON document inside candidates[0].content.parts[0].text.
func parseResponse(body []byte) (detections []model.Detection, confidence float64, notes string, err error) {
	envelope, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, 0, "", fmt.Errorf("decode envelope: %w", err)
	}
	candidates, err := envelope.GetObjectArray("candidates")
	if err != nil || len(candidates) == 0 {
		reason, _ := envelope.GetString("promptFeedback", "blockReason")
		return nil, 0, "", fmt.Errorf("no candidates in response (block reason %q)", reason)
	}
	parts, err := candidates[0].GetObjectArray("content", "parts")
	if err != nil || len(parts) == 0 {
		finish, _ := candidates[0].GetString("finishReason")
		return nil, 0, "", fmt.Errorf("candidate has no content (finish reason %q)", finish)
	}
	text, err := parts[0].GetString("text")
	if err != nil {
		return nil, 0, "", fmt.Errorf("candidate part has no text: %w", err)
	}

	answer, err := jason.NewObjectFromBytes([]byte(strings.TrimSpace(text)))
	if err != nil {
		return nil, 0, "", fmt.Errorf("decode model answer: %w", err)
	}
	pipes, err := answer.GetObjectArray("pipes")
	if err != nil {
		return nil, 0, "", fmt.Errorf("model answer has no pipes: %w", err)
	}

	detections = make([]model.Detection, 0, len(pipes))
	for _, p := range pipes {
		size, _ := p.GetString("size")
		d := model.Detection{Size: model.ParseSize(size)}
		d.BoundingBox.X, _ = p.GetFloat64("boundingBox", "x")
		d.BoundingBox.Y, _ = p.GetFloat64("boundingBox", "y")
		d.BoundingBox.Width, _ = p.GetFloat64("boundingBox", "width")
		d.BoundingBox.Height, _ = p.GetFloat64("boundingBox", "height")
		d.Confidence, _ = p.GetFloat64("confidence")
		detections = append(detections, d)
	}

	// A missing overall confidence reads as zero.
	confidence, _ = answer.GetFloat64("overallConfidence")
	raw, _ := answer.GetString("notes")
	return detections, confidence, plainNotes(raw), nil
}

// plainNotes strips any markup the model slipped into its summary.
func plainNotes(s string) string {
	if strings.ContainsAny(s, "<&") {
		s = html2text.HTML2Text(s)
	}
	return norm.NFC.String(strings.TrimSpace(s))
}
