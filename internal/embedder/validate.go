package embedder

import (
	"fmt"
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama-3",
	"mistral",
	"mixtral",
	"gemma",
	"gemini-1",
	"gemini-2",
	"phi3",
	"claude",
	"deepseek",
	"qwen",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateForSearch checks the embedding configuration before the index and
// service are wired. It returns an error when the configuration is clearly
// broken (missing credentials) and logs a warning when EMBEDDING_MODEL looks
// like a chat model or the dimensions disagree with the backend default.
func ValidateForSearch(log *slog.Logger) error {
	backend := Backend()

	switch backend {
	case "gemini":
		if firstEnv("EMBEDDING_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY") == "" {
			return fmt.Errorf("embedder: no Gemini API key found, set GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
	case "openai":
		if firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: no OpenAI API key found, set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case "azure":
		if firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: no Azure API key found, set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT") == "" {
			return fmt.Errorf("embedder: no Azure endpoint found, set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	case "ollama":
	case "hash":
		log.Warn("embedder: hash backend produces lexical vectors for local development only")
	default:
		return fmt.Errorf("embedder: unknown backend %q (valid values: gemini, openai, azure, ollama, hash)", backend)
	}

	if model := firstEnv("EMBEDDING_MODEL"); model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. gemini-embedding-001, text-embedding-3-small"),
		)
	}

	if backend == "ollama" && getEnvInt("EMBEDDING_DIMENSIONS", 0) == 0 {
		log.Info("embedder: ollama backend uses 768-dimension vectors; an existing 1536-dimension collection must be recreated",
			slog.String("model", getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)),
		)
	}

	return nil
}
