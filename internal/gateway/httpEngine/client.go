package httpEngine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/domain/commonModels"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	"github.com/akolanti/layoutlens/internal/gateway"
	"github.com/akolanti/layoutlens/internal/geometry"
	"github.com/akolanti/layoutlens/pkg/logger_i"
	"github.com/google/uuid"
)

const (
	askPath       = "/extract"
	reextractPath = "/reextract"
	detectPath    = "/detect-text"
	healthPath    = "/health"
)

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *logger_i.Logger
}

// NewClient talks to an engine exposing the question/re-extract/detect endpoints over JSON.
func NewClient(baseURL string, httpClient *http.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = config.EngineRequestTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		timeout: timeout,
		logger:  logger_i.NewLogger("HttpEngine"),
	}
}

type askRequest struct {
	Image    string `json:"image"`
	Format   string `json:"format"`
	Question string `json:"question"`
	Page     int    `json:"page"`
}

type reextractRequest struct {
	Image  string                 `json:"image"`
	Format string                 `json:"format"`
	Page   int                    `json:"page"`
	Box    fieldModel.BoundingBox `json:"bbox"`
}

type detectRequest struct {
	Image        string                   `json:"image"`
	Format       string                   `json:"format"`
	Page         int                      `json:"page"`
	ExcludeBoxes []fieldModel.BoundingBox `json:"exclude_boxes"`
}

type answerResponse struct {
	Status      string          `json:"status"`
	Answer      *string         `json:"answer"`
	Score       *float64        `json:"score"`
	Box         json.RawMessage `json:"bbox"`
	Error       string          `json:"error"`
	ImageWidth  float64         `json:"image_width"`
	ImageHeight float64         `json:"image_height"`
}

type textBox struct {
	Id         json.RawMessage `json:"id"`
	Text       string          `json:"text"`
	Box        json.RawMessage `json:"bbox"`
	Confidence float64         `json:"confidence"`
}

type detectResponse struct {
	Status      string    `json:"status"`
	TextBoxes   []textBox `json:"text_boxes"`
	Error       string    `json:"error"`
	ImageWidth  float64   `json:"image_width"`
	ImageHeight float64   `json:"image_height"`
}

func (c *Client) Ask(ctx context.Context, doc commonModels.Document, page int, q fieldModel.FieldQuestion) (fieldModel.EngineAnswer, error) {
	prompt := q.Prompt
	if prompt == "" {
		prompt = "What is the " + strings.ReplaceAll(q.Key, "_", " ") + "?"
	}
	req := askRequest{Image: encode(doc), Format: string(doc.Format), Question: prompt, Page: page}

	var resp answerResponse
	if err := c.post(ctx, askPath, req, answerValidator, &resp); err != nil {
		return fieldModel.EngineAnswer{}, err
	}
	if resp.Status != "success" {
		return fieldModel.EngineAnswer{}, fmt.Errorf("%w: %s", fieldModel.ErrEngineUnavailable, resp.Error)
	}
	if resp.Answer == nil || strings.TrimSpace(*resp.Answer) == "" {
		return fieldModel.EngineAnswer{}, fmt.Errorf("%w: question %q", fieldModel.ErrEngineEmpty, q.Key)
	}
	return toAnswer(resp)
}

// Reextract reads the text inside box. An empty string answer is a valid result here.
func (c *Client) Reextract(ctx context.Context, doc commonModels.Document, page int, box fieldModel.BoundingBox) (fieldModel.EngineAnswer, error) {
	req := reextractRequest{Image: encode(doc), Format: string(doc.Format), Page: page, Box: box}

	var resp answerResponse
	if err := c.post(ctx, reextractPath, req, answerValidator, &resp); err != nil {
		return fieldModel.EngineAnswer{}, err
	}
	if resp.Status != "success" {
		return fieldModel.EngineAnswer{}, fmt.Errorf("%w: %s", fieldModel.ErrEngineUnavailable, resp.Error)
	}
	if resp.Answer == nil {
		return fieldModel.EngineAnswer{}, fmt.Errorf("%w: no answer for region", fieldModel.ErrEngineEmpty)
	}
	answer, err := toAnswer(resp)
	if err != nil {
		return answer, err
	}
	// the engine reads the box we sent, it does not have to echo it
	if len(resp.Box) == 0 || string(resp.Box) == "null" {
		answer.Box = box
	}
	return answer, nil
}

func (c *Client) DetectText(ctx context.Context, doc commonModels.Document, page int, exclude []fieldModel.BoundingBox) ([]fieldModel.AlignmentCandidate, error) {
	if exclude == nil {
		exclude = []fieldModel.BoundingBox{}
	}
	req := detectRequest{Image: encode(doc), Format: string(doc.Format), Page: page, ExcludeBoxes: exclude}

	var resp detectResponse
	if err := c.post(ctx, detectPath, req, detectValidator, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("%w: %s", fieldModel.ErrEngineUnavailable, resp.Error)
	}

	raster := geometry.Size{W: resp.ImageWidth, H: resp.ImageHeight}
	candidates := make([]fieldModel.AlignmentCandidate, 0, len(resp.TextBoxes))
	for i, tb := range resp.TextBoxes {
		box, _, err := parseBox(tb.Box, raster)
		if err != nil {
			c.logger.Warn("skipping text box with bad geometry", "index", i, "error", err)
			continue
		}
		candidates = append(candidates, fieldModel.AlignmentCandidate{
			Id:         candidateId(tb.Id, i),
			Box:        box,
			Text:       tb.Text,
			Confidence: tb.Confidence,
		})
	}
	return gateway.DropExcluded(candidates, exclude), nil
}

// Ping checks the engine health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return gateway.Classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: health status %d", fieldModel.ErrEngineUnavailable, resp.StatusCode)
	}
	return nil
}

type validatorKind int

const (
	answerValidator validatorKind = iota
	detectValidator
)

func (c *Client) post(ctx context.Context, path string, body any, kind validatorKind, out any) error {
	log := c.logger.FromContext(ctx)
	reqID := uuid.New().String()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	bs, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bs))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", fieldModel.ErrEngineUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", reqID)
	if trace, ok := ctx.Value(config.TRACE_ID_KEY).(string); ok {
		req.Header.Set("X-Trace-Id", trace)
	}

	log.Debug("engine request", "req_id", reqID, "path", path, "content_length", len(bs))
	resp, err := c.http.Do(req)
	if err != nil {
		log.Error("engine send error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return gateway.Classify(err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			log.Warn("engine response body close error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.Classify(err)
	}
	log.Debug("engine response", "req_id", reqID, "status", resp.StatusCode, "bytes", len(raw), "elapsed_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", fieldModel.ErrEngineTimeout, resp.StatusCode)
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("%w: status %d", fieldModel.ErrEngineUnavailable, resp.StatusCode)
	}

	answerS, detectS, err := schemas()
	if err != nil {
		return fmt.Errorf("%w: %v", fieldModel.ErrEngineUnavailable, err)
	}
	schema := answerS
	if kind == detectValidator {
		schema = detectS
	}
	if err := validate(schema, raw); err != nil {
		log.Error("engine response rejected", "req_id", reqID, "error", err)
		return fmt.Errorf("%w: %v", fieldModel.ErrEngineUnavailable, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", fieldModel.ErrEngineUnavailable, err)
	}
	return nil
}

func toAnswer(resp answerResponse) (fieldModel.EngineAnswer, error) {
	answer := fieldModel.EngineAnswer{
		RasterWidth:  int(resp.ImageWidth),
		RasterHeight: int(resp.ImageHeight),
	}
	if resp.Answer != nil {
		answer.Value = strings.TrimSpace(*resp.Answer)
	}
	if resp.Score != nil {
		answer.Confidence = *resp.Score
	}
	if len(resp.Box) > 0 && string(resp.Box) != "null" {
		box, approx, err := parseBox(resp.Box, geometry.Size{W: resp.ImageWidth, H: resp.ImageHeight})
		if err != nil {
			return answer, err
		}
		answer.Box = box
		answer.Approximate = approx
	}
	return answer, nil
}

// parseBox reads a raster-space box or polygon. Without raster dimensions the values are taken
// as already normalized and the result is flagged approximate.
func parseBox(raw json.RawMessage, raster geometry.Size) (fieldModel.BoundingBox, bool, error) {
	approx := raster.W <= 0 || raster.H <= 0
	if approx {
		raster = geometry.Size{W: fieldModel.NormalizedMax, H: fieldModel.NormalizedMax}
	}

	var flat []float64
	if err := json.Unmarshal(raw, &flat); err == nil && len(flat) == 4 {
		box, err := geometry.NormalizeRaster(flat[0], flat[1], flat[2], flat[3], raster)
		return box, approx, err
	}
	var quad [][2]float64
	if err := json.Unmarshal(raw, &quad); err != nil {
		return fieldModel.BoundingBox{}, approx, fieldModel.InvalidGeometry("unreadable bbox %s", string(raw))
	}
	box, err := geometry.FromQuad(quad, raster)
	return box, approx, err
}

func candidateId(raw json.RawMessage, index int) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return "tb-" + strconv.Itoa(index)
}

func encode(doc commonModels.Document) string {
	return base64.StdEncoding.EncodeToString(doc.Image)
}
