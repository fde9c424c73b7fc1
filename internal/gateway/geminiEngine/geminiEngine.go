package geminiEngine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"strings"
	"sync"

	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/internal/gateway"
	"github.com/akolanti/layoutlens/pkg/logger_i"
	"google.golang.org/genai"
)

const systemPrompt = `You read scanned business documents. Coordinates are box_2d = [ymin, xmin, ymax, xmax] ` +
	`normalized to 0-1000 with the origin at the top left. Reply with JSON only.`

// generator is the part of genai.Models the engine uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type engine struct {
	mu        sync.RWMutex
	models    generator
	modelName string
	logger    *logger_i.Logger
}

var geminiEngine *engine
var once sync.Once
var logger *logger_i.Logger

// GetGeminiEngine returns the shared engine, or nil when the client could not be created.
func GetGeminiEngine(ctx context.Context, modelName string, apiKey string) gateway.Engine {
	once.Do(func() {
		logger = logger_i.NewLogger("GeminiEngine")
		newGeminiEngine(ctx, modelName, apiKey)
	})
	if geminiEngine == nil {
		return nil
	}
	return geminiEngine
}

func newGeminiEngine(ctx context.Context, modelName string, apiKey string) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		logger.Error("Error creating Gemini client", "error", err)
		return
	}
	geminiEngine = &engine{models: c.Models, modelName: modelName, logger: logger}
	logger.Info("Gemini engine created", "model", modelName)
	go closeClient(ctx, geminiEngine)
}

func closeClient(ctx context.Context, e *engine) {
	<-ctx.Done()
	e.logger.Info("Closing Gemini engine")
	e.mu.Lock()
	e.models = nil
	e.mu.Unlock()
}

func (e *engine) client() generator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.models
}

type answerReply struct {
	Answer     *string   `json:"answer"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box_2d"`
}

type textReply struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box_2d"`
}

func (e *engine) Ask(ctx context.Context, doc commonModels.Document, page int, q fieldModel.FieldQuestion) (fieldModel.EngineAnswer, error) {
	prompt := q.Prompt
	if prompt == "" {
		prompt = "What is the " + strings.ReplaceAll(q.Key, "_", " ") + "?"
	}
	instruction := fmt.Sprintf(`Page %d. Question: %s
Return {"answer": string or null, "confidence": number 0-1, "box_2d": [ymin,xmin,ymax,xmax]} for the value that answers it.`, page, prompt)

	var reply answerReply
	if err := e.generate(ctx, doc, instruction, &reply); err != nil {
		return fieldModel.EngineAnswer{}, err
	}
	if reply.Answer == nil || strings.TrimSpace(*reply.Answer) == "" {
		return fieldModel.EngineAnswer{}, fmt.Errorf("%w: question %q", fieldModel.ErrEngineEmpty, q.Key)
	}
	return e.toAnswer(doc, reply)
}

func (e *engine) Reextract(ctx context.Context, doc commonModels.Document, page int, box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error) {
	instruction := fmt.Sprintf(`Page %d. Read the text inside box_2d [%.0f, %.0f, %.0f, %.0f].
Return {"answer": string, "confidence": number 0-1}. Use "" when the region is blank.`,
		page, box.Y1, box.X1, box.Y2, box.X2)

	var reply answerReply
	if err := e.generate(ctx, doc, instruction, &reply); err != nil {
		return fieldModel.EngineAnswer{}, err
	}
	if reply.Answer == nil {
		return fieldModel.EngineAnswer{}, fmt.Errorf("%w: no answer for region", fieldModel.ErrEngineEmpty)
	}
	reply.Box = nil
	answer, err := e.toAnswer(doc, reply)
	if err != nil {
		return answer, err
	}
	answer.Box = box
	return answer, nil
}

func (e *engine) DetectText(ctx context.Context, doc commonModels.Document, page int, exclude []fieldModel.BoundingBox) ([]fieldModel.AlignmentCandidate, error) {
	var skip strings.Builder
	for _, b := range exclude {
		fmt.Fprintf(&skip, " [%.0f, %.0f, %.0f, %.0f]", b.Y1, b.X1, b.Y2, b.X2)
	}
	instruction := fmt.Sprintf(`Page %d. List every separate line of printed text.
Return [{"text": string, "confidence": number 0-1, "box_2d": [ymin,xmin,ymax,xmax]}].`, page)
	if skip.Len() > 0 {
		instruction += "\nIgnore text inside these boxes:" + skip.String()
	}

	var replies []textReply
	if err := e.generate(ctx, doc, instruction, &replies); err != nil {
		return nil, err
	}
	candidates := make([]fieldModel.AlignmentCandidate, 0, len(replies))
	for i, r := range replies {
		box, err := fromBox2D(r.Box)
		if err != nil {
			e.logger.Warn("skipping text line with bad geometry", "index", i, "error", err)
			continue
		}
		candidates = append(candidates, fieldModel.AlignmentCandidate{
			Id:         fmt.Sprintf("tb-%d", i),
			Box:        box,
			Text:       r.Text,
			Confidence: r.Confidence,
		})
	}
	return gateway.DropExcluded(candidates, exclude), nil
}

func (e *engine) generate(ctx context.Context, doc commonModels.Document, instruction string, out any) error {
	log := e.logger.FromContext(ctx)
	models := e.client()
	if models == nil {
		return fmt.Errorf("%w: gemini client closed", fieldModel.ErrEngineUnavailable)
	}

	temperature := float32(0)
	contentConfig := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       &temperature,
	}
	parts := []*genai.Part{
		genai.NewPartFromBytes(doc.Image, mimeType(doc.Format)),
		genai.NewPartFromText(instruction),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	result, err := models.GenerateContent(ctx, e.modelName, contents, contentConfig)
	if err != nil {
		log.Error("gemini call failed", "error", err)
		return gateway.Classify(err)
	}
	text := stripFence(result.Text())
	if text == "" {
		return fmt.Errorf("%w: empty model reply", fieldModel.ErrEngineEmpty)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		log.Error("gemini reply is not json", "error", err)
		return fmt.Errorf("%w: decode reply: %v", fieldModel.ErrEngineUnavailable, err)
	}
	return nil
}

func (e *engine) toAnswer(doc commonModels.Document, reply answerReply) (fieldModel.EngineAnswer, error) {
	answer := fieldModel.EngineAnswer{Confidence: reply.Confidence}
	if reply.Answer != nil {
		answer.Value = strings.TrimSpace(*reply.Answer)
	}
	answer.RasterWidth, answer.RasterHeight = rasterSize(doc)
	if len(reply.Box) > 0 {
		box, err := fromBox2D(reply.Box)
		if err != nil {
			return answer, err
		}
		answer.Box = box
	}
	return answer, nil
}

// fromBox2D converts gemini's [ymin, xmin, ymax, xmax] into a canonical normalized box.
func fromBox2D(v []float64) (fieldModel.BoundingBox, error) {
	if len(v) != 4 {
		return fieldModel.BoundingBox{}, fieldModel.InvalidGeometry("box_2d needs 4 values, got %d", len(v))
	}
	for _, c := range v {
		if c < 0 || c > fieldModel.NormalizedMax {
			return fieldModel.BoundingBox{}, fieldModel.InvalidGeometry("box_2d value %v outside [0,1000]", c)
		}
	}
	b := fieldModel.BoundingBox{X1: v[1], Y1: v[0], X2: v[3], Y2: v[2]}
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	return b, nil
}

// rasterSize is the pixel size the model saw. Unknown for pdf pages.
// Decoded documents carry it already; otherwise only the png header is read.
func rasterSize(doc commonModels.Document) (int, int) {
	if doc.Format != commonModels.PNG {
		return 0, 0
	}
	if doc.Width > 0 && doc.Height > 0 {
		return doc.Width, doc.Height
	}
	if len(doc.Image) == 0 {
		return 0, 0
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(doc.Image))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func mimeType(format commonModels.DocFormat) string {
	if format == commonModels.PDF {
		return "application/pdf"
	}
	return "image/png"
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
