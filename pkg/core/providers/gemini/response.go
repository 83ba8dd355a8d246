package gemini

import (
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/scholar-lite/pkg/core/search"
)

// extractAudio concatenates every inline audio part of the first candidate.
func extractAudio(resp *genai.GenerateContentResponse) []byte {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	return inlineAudio(resp.Candidates[0].Content)
}

func inlineAudio(content *genai.Content) []byte {
	if content == nil {
		return nil
	}
	var out []byte
	for _, part := range content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mime := part.InlineData.MIMEType
		if mime != "" && !strings.HasPrefix(mime, "audio/") {
			continue
		}
		out = append(out, part.InlineData.Data...)
	}
	return out
}

// extractSources reads web grounding chunks from the first candidate.
func extractSources(resp *genai.GenerateContentResponse) []search.Source {
	if resp == nil || len(resp.Candidates) == 0 {
		return []search.Source{}
	}
	md := resp.Candidates[0].GroundingMetadata
	if md == nil {
		return []search.Source{}
	}
	raw := make([]search.Source, 0, len(md.GroundingChunks))
	for _, chunk := range md.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			continue
		}
		raw = append(raw, search.Source{URI: chunk.Web.URI, Title: chunk.Web.Title})
	}
	return search.FilterSources(raw)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Text()
}
