package llm

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/healthchat-app/HealthChat/internal/config"
	"github.com/healthchat-app/HealthChat/internal/core"
	objectclient "github.com/healthchat-app/HealthChat/internal/core/object-client"
	"github.com/healthchat-app/HealthChat/internal/models"
)

type GeminiChat struct {
	client    *genai.Client
	modelName string
	http      *http.Client

	// own-bucket images are read through the storage client, not their
	// public URL, so private buckets still resolve
	objects core.ObjectClient
	bucket  string
	region  string
}

func NewGeminiChat(ctx context.Context, cfg *config.Config, objects core.ObjectClient) (*GeminiChat, error) {
	apiKey := cfg.AIAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	modelName := cfg.GenModel
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiChat{
		client:    cl,
		modelName: modelName,
		http:      &http.Client{Timeout: 30 * time.Second},
		objects:   objects,
		bucket:    cfg.BucketName,
		region:    cfg.AwsRegion,
	}, nil
}

func (g *GeminiChat) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Reply sends the active patient's context, the prior transcript and the
// new turn to the model and returns exactly one assistant reply.
func (g *GeminiChat) Reply(ctx context.Context, req *core.ChatRequest) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt(req.Patient))},
	}

	chat := m.StartChat()
	chat.History = g.historyContents(ctx, req.History)

	parts := g.turnParts(ctx, req.Message, req.ImageURL)
	resp, err := chat.SendMessage(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

// historyContents converts the stored transcript to model contents,
// inlining image references the same way the live turn does.
func (g *GeminiChat) historyContents(ctx context.Context, history []models.ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "model"
		}
		content := &genai.Content{Role: role}
		text := msg.Content
		if text == "" && msg.ImageURL != "" {
			text = "Here is an image."
		}
		content.Parts = append(content.Parts, genai.Text(text))
		if msg.ImageURL != "" {
			if img, format, err := g.fetchImage(ctx, msg.ImageURL); err == nil {
				content.Parts = append(content.Parts, genai.ImageData(format, img))
			} else {
				log.Printf("WARN: could not fetch chat image %s: %v", msg.ImageURL, err)
			}
		}
		out = append(out, content)
	}
	return out
}

func (g *GeminiChat) turnParts(ctx context.Context, message, imageURL string) []genai.Part {
	if imageURL == "" {
		return []genai.Part{genai.Text(message)}
	}
	if message == "" {
		message = "Please analyze this image."
	}
	parts := []genai.Part{genai.Text(message)}
	img, format, err := g.fetchImage(ctx, imageURL)
	if err != nil {
		log.Printf("WARN: could not fetch chat image %s: %v", imageURL, err)
		return parts
	}
	return append(parts, genai.ImageData(format, img))
}

// fetchImage pulls the uploaded image back out of object storage by its
// public URL. The model API wants bytes, not a reference.
func (g *GeminiChat) fetchImage(ctx context.Context, url string) ([]byte, string, error) {
	if key := objectclient.KeyFromURL(g.bucket, g.region, url); key != "" && g.objects != nil {
		body, err := g.objects.GetFile(ctx, g.bucket, key)
		if err != nil {
			return nil, "", err
		}
		return body, imageFormat(url, ""), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image fetch status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", err
	}
	return body, imageFormat(url, resp.Header.Get("Content-Type")), nil
}

func imageFormat(url, contentType string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.Contains(contentType, "webp"):
		return "webp"
	case strings.HasSuffix(strings.ToLower(url), ".png"):
		return "png"
	case strings.HasSuffix(strings.ToLower(url), ".webp"):
		return "webp"
	default:
		return "jpeg"
	}
}

// systemPrompt carries the active patient's own medical context, never
// another patient's.
func systemPrompt(p *models.Patient) string {
	recordsText := "No external medical files uploaded."
	if len(p.FileRefs) > 0 {
		names := make([]string, 0, len(p.FileRefs))
		for _, f := range p.FileRefs {
			name := f.Name
			if name == "" {
				name = "Unnamed Document"
			}
			names = append(names, name)
		}
		recordsText = "Uploaded Medical Reports: " + strings.Join(names, ", ")
	}

	return fmt.Sprintf(`You are HealthChat AI, a professional medical assistant.

PATIENT CONTEXT:
- Name: %s
- Age: %s
- Gender: %s
- Existing Diseases: %s
- Allergies: %s
- Current Medications: %s
- %s

INSTRUCTIONS:
1. If the user uploads an image, describe what you see visually, but gently remind them a physical exam is best for a real diagnosis.
2. Analyze their diseases and allergies deeply before advising.
3. If user mentions "chest pain", "difficulty breathing", "severe bleeding", or "stroke", tell them to call 108 immediately.
4. TONE: Be warm, conversational, and direct. Do NOT use repetitive robotic phrases. Weave in casual reminders that you are an AI assistant when appropriate, but focus primarily on answering their question.`,
		orDefault(p.FullName, "Unknown"),
		orDefault(p.Age, "Unknown"),
		orDefault(p.Gender, "Unknown"),
		orDefault(p.ExistingDiseases, "None reported"),
		orDefault(p.Allergies, "None reported"),
		orDefault(p.CurrentMedicines, "None reported"),
		recordsText)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

var _ core.ChatProvider = (*GeminiChat)(nil)
