package port

import "context"

// AIProvider abstracts the model-serving backend used for query embeddings
// and synonym generation. Implementations can target Ollama or any
// compatible API.
type AIProvider interface {
	// ModelName returns the identifier of the chat model being used.
	ModelName() string

	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Chat sends a system + user prompt pair and returns the full response.
	Chat(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}
