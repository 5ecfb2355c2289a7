package extraction

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

const maxAttempts = 3

const systemPrompt = `You transcribe hospital ward census sheets, patient boards and handoff notes into structured records.
Respond with strict JSON only, in the form {"patients":[...]}. Each patient object has:
"name" (full name, required), "age", "diagnosis", "diagnosisCode" (ICD-10 when legible), "bed",
"insurance", "priority" (one of critical, high, medium, low when stated), "situation", "background",
"assessment", "recommendation" (SBAR handoff fields when present) and "confidence"
(integer 0-100: how sure you are that the fields of this patient were read correctly).
Omit fields you cannot read. Never invent patients. If the document lists no patients, respond {"patients":[]}.`

// Extractor is the recognition service seen by the intake pipeline.
type Extractor interface {
	Analyze(ctx context.Context, doc Document) (*Result, error)
}

// ErrNotConfigured is returned by Disabled.
var ErrNotConfigured = errors.New("recognition service is not configured")

// Disabled rejects every document. The server uses it when no API key is set
// so uploads fail with a readable message instead of a nil extractor.
type Disabled struct{}

func (Disabled) Analyze(context.Context, Document) (*Result, error) {
	return nil, ErrNotConfigured
}

// AnthropicMessager is the subset of the Anthropic client used here.
type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicExtractor sends documents to a Claude model and parses the JSON
// reply. Empty or malformed replies are retried with corrective feedback;
// timeouts, rate limits and server errors are retried with backoff.
type AnthropicExtractor struct {
	messages AnthropicMessager
	model    string
	timeout  time.Duration
	logger   zerolog.Logger
	backoff  func(attempt int) time.Duration
}

type AnthropicOption func(*AnthropicExtractor)

func WithModel(model string) AnthropicOption {
	return func(e *AnthropicExtractor) {
		if model != "" {
			e.model = model
		}
	}
}

// WithTimeout bounds each call to the service.
func WithTimeout(d time.Duration) AnthropicOption {
	return func(e *AnthropicExtractor) { e.timeout = d }
}

func WithLogger(l zerolog.Logger) AnthropicOption {
	return func(e *AnthropicExtractor) { e.logger = l }
}

func NewAnthropicExtractor(messages AnthropicMessager, opts ...AnthropicOption) *AnthropicExtractor {
	e := &AnthropicExtractor{
		messages: messages,
		model:    string(anthropic.ModelClaudeSonnet4_20250514),
		logger:   zerolog.Nop(),
		backoff:  backoffDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewAnthropicExtractorFromKey builds an extractor backed by the real API.
func NewAnthropicExtractorFromKey(apiKey string, opts ...AnthropicOption) (*AnthropicExtractor, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicExtractor(&c.Messages, opts...), nil
}

func (e *AnthropicExtractor) Analyze(ctx context.Context, doc Document) (*Result, error) {
	content, err := contentBlock(doc)
	if err != nil {
		return nil, err
	}

	feedback := ""
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		blocks := []anthropic.ContentBlockParamUnion{content}
		instruction := "Extract every patient in this document. Respond with only valid JSON."
		if feedback != "" {
			instruction += "\n\n" + feedback
		}
		blocks = append(blocks, anthropic.NewTextBlock(instruction))

		raw, err := e.call(ctx, blocks)
		if err != nil {
			if retryable(err) && attempt < maxAttempts {
				e.logger.Warn().Err(err).Int("attempt", attempt).Msg("recognition call failed, retrying")
				if err := sleepCtx(ctx, e.backoff(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("recognition service: %w", err)
		}

		raw = strings.TrimSpace(raw)
		if raw == "" {
			if attempt < maxAttempts {
				feedback = "Your previous response was empty. Respond with valid JSON."
				continue
			}
			return nil, errors.New("recognition service returned an empty response")
		}

		var result Result
		if err := decodeResult(stripCodeFences(raw), &result); err != nil {
			if attempt < maxAttempts {
				e.logger.Warn().Err(err).Int("attempt", attempt).Msg("unparseable recognition response, retrying")
				feedback = fmt.Sprintf("Your previous response could not be used: %s. Respond with only valid JSON of the form {\"patients\":[...]}.", err)
				continue
			}
			return nil, fmt.Errorf("recognition response: %w", err)
		}

		if len(result.Patients) == 0 {
			return nil, ErrNoCandidates
		}
		return &result, nil
	}
	return nil, errors.New("recognition failed after retries")
}

func (e *AnthropicExtractor) call(ctx context.Context, blocks []anthropic.ContentBlockParamUnion) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(e.model),
		MaxTokens:   8192,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

func contentBlock(doc Document) (anthropic.ContentBlockParamUnion, error) {
	if len(doc.Data) == 0 {
		return anthropic.ContentBlockParamUnion{}, ErrEmptyDocument
	}
	switch doc.Kind() {
	case KindPDF:
		return anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{
			Data: base64.StdEncoding.EncodeToString(doc.Data),
		}), nil
	case KindImage:
		return anthropic.NewImageBlockBase64(doc.MimeType, base64.StdEncoding.EncodeToString(doc.Data)), nil
	default:
		return anthropic.NewTextBlock("Document text:\n\n" + string(doc.Data)), nil
	}
}

// decodeResult requires a top-level "patients" array.
func decodeResult(raw string, out *Result) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	patients, ok := probe["patients"]
	if !ok {
		return errors.New(`missing "patients" array`)
	}
	if err := json.Unmarshal(patients, &out.Patients); err != nil {
		return fmt.Errorf(`"patients" is not an array of patient objects: %w`, err)
	}
	return nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if _, rest, ok := strings.Cut(s, "\n"); ok {
			s = rest
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return time.Second
	}
	return 2 * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
