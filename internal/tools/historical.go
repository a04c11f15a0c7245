// Package tools holds the agent-facing tools. The only one today is the
// historical-data tool, which forwards a natural-language query to the
// external analysis service and normalizes whatever comes back into an
// Envelope. Failures never escape the tool boundary: the agent always
// receives a well-formed JSON string.
package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/harbormind/harbormind/internal/assets"
)

// ToolName is the identifier the orchestrator scans agent traces for.
const ToolName = "query_historical_data_system"

const (
	queryEndpoint  = "/api/query"
	defaultTimeout = 60 * time.Second

	unreachableText    = "The historical data service could not be reached. Please try again later."
	invalidFormatText  = "The historical data service returned a response that could not be understood."
	imageGeneratedText = "A visualization was generated from the historical data."
	imageLostNote      = " (a generated visualization could not be stored)"
)

// Envelope is the normalized tool result exchanged with the agent. When
// ImagePath is set the referenced asset has already been written.
type Envelope struct {
	TextResponse string `json:"text_response,omitempty"`
	ImagePath    string `json:"image_path,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ParseEnvelope decodes a raw tool observation back into an Envelope.
func ParseEnvelope(raw string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Envelope{}, errors.Wrap(err, "parse tool envelope")
	}
	return env, nil
}

// remoteResponse is the wire shape of the external service's reply.
type remoteResponse struct {
	TextResponse  string `json:"text_response"`
	ImageResponse string `json:"image_response"`
	Error         string `json:"error"`
}

type HistoricalData struct {
	baseURL string
	client  *http.Client
	assets  *assets.Store
	logger  *zap.Logger
}

func NewHistoricalData(baseURL string, store *assets.Store, logger *zap.Logger) *HistoricalData {
	return &HistoricalData{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
		assets:  store,
		logger:  logger,
	}
}

func (t *HistoricalData) Name() string {
	return ToolName
}

func (t *HistoricalData) Description() string {
	return "Use this tool ONLY when the user asks specific questions about historical maritime data, " +
		"requests summaries of historical records, asks for analysis, or requests visualizations " +
		"(like charts or graphs) based on historical maritime data (ships, captains, ports, dates, voyages, etc.). " +
		"Do NOT use this tool for general conversation, greetings, or questions unrelated to maritime history. " +
		"Input should be the user's question exactly as they asked it. " +
		"The tool returns a JSON string with text_response, image_path and error fields."
}

// Call implements the langchaingo tool contract. The return channel is a
// string, so the envelope is serialized here and nowhere else.
func (t *HistoricalData) Call(ctx context.Context, input string) (string, error) {
	env := t.Query(ctx, input)
	raw, err := json.Marshal(env)
	if err != nil {
		return "", errors.Wrap(err, "marshal tool envelope")
	}
	return string(raw), nil
}

// Query performs the outbound call and folds every failure mode into the
// returned Envelope.
func (t *HistoricalData) Query(ctx context.Context, query string) Envelope {
	if t.baseURL == "" {
		return Envelope{Error: "historical data service URL not configured"}
	}

	fullURL := t.baseURL + queryEndpoint
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return Envelope{Error: fmt.Sprintf("failed to encode query: %v", err), TextResponse: unreachableText}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(payload))
	if err != nil {
		return Envelope{Error: fmt.Sprintf("failed to build request: %v", err), TextResponse: unreachableText}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return Envelope{
				Error:        fmt.Sprintf("request to the historical data service timed out after %s", t.client.Timeout),
				TextResponse: unreachableText,
			}
		}
		return Envelope{
			Error:        fmt.Sprintf("could not connect to the historical data service at %s", fullURL),
			TextResponse: unreachableText,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Envelope{Error: fmt.Sprintf("failed to read response: %v", err), TextResponse: unreachableText}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Envelope{
			Error:        fmt.Sprintf("historical data service returned HTTP %d. Details: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			TextResponse: unreachableText,
		}
	}

	var remote remoteResponse
	if err := json.Unmarshal(body, &remote); err != nil {
		t.logger.Warn("historical data service sent unparseable body", zap.Error(err))
		return Envelope{Error: "invalid format", TextResponse: invalidFormatText}
	}

	env := Envelope{TextResponse: remote.TextResponse, Error: remote.Error}
	if remote.ImageResponse != "" {
		env = t.persistImage(env, remote.ImageResponse)
	}
	return env
}

// persistImage decodes an inline data-URI image and writes it through the
// asset store. Decode or write failures degrade the envelope rather than
// failing the query.
func (t *HistoricalData) persistImage(env Envelope, dataURI string) Envelope {
	mediaType, data, err := parseImageDataURI(dataURI)
	if err != nil {
		t.logger.Warn("failed to decode inline image", zap.Error(err))
		env.TextResponse += imageLostNote
		return env
	}

	filename := uuid.NewString() + "." + extensionFor(mediaType)
	relPath, err := t.assets.Save(filename, data)
	if err != nil {
		t.logger.Error("failed to store generated image", zap.Error(err), zap.String("filename", filename))
		env.TextResponse += imageLostNote
		return env
	}

	env.ImagePath = relPath
	if env.TextResponse == "" {
		env.TextResponse = imageGeneratedText
	}
	return env
}

// parseImageDataURI splits a "data:image/<type>;base64,<data>" string into
// its media type and decoded bytes.
func parseImageDataURI(s string) (string, []byte, error) {
	if !strings.HasPrefix(s, "data:") {
		return "", nil, errors.New("not a data URI")
	}
	rest := strings.TrimPrefix(s, "data:")
	mediaType, encoded, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return "", nil, errors.New("missing base64 payload")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", nil, errors.Wrap(err, "decode base64 image")
	}
	return mediaType, data, nil
}

func extensionFor(mediaType string) string {
	switch strings.ToLower(mediaType) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/svg+xml":
		return "svg"
	default:
		return "png"
	}
}
