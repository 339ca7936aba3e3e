package mcp

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"natural language description of the content to find"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"matching chunks ordered by descending score"`
}

// SearchResultOutput is one matching chunk.
type SearchResultOutput struct {
	Path       string            `json:"path" jsonschema:"absolute path of the file"`
	Score      float64           `json:"score" jsonschema:"similarity between 0 and 1"`
	Snippet    string            `json:"snippet" jsonschema:"matched text"`
	Section    string            `json:"section,omitempty" jsonschema:"page, sheet or heading the text came from"`
	Type       string            `json:"type,omitempty" jsonschema:"detected file type"`
	Attributes map[string]string `json:"attributes,omitempty" jsonschema:"file attributes such as title or page_count"`
}

// AskInput defines the input schema for the ask tool.
type AskInput struct {
	Question string `json:"question" jsonschema:"question to answer from the indexed files"`
	Limit    int    `json:"limit,omitempty" jsonschema:"number of chunks given to the model, default from config"`
}

// AskOutput defines the output schema for the ask tool.
type AskOutput struct {
	Answer   string   `json:"answer"`
	Fallback bool     `json:"fallback" jsonschema:"true when the language model was unreachable and answer lists the matching files"`
	Sources  []string `json:"sources" jsonschema:"files the answer was grounded on"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Status     string        `json:"status"` // "ready" or "empty"
	Roots      []string      `json:"roots"`
	Stats      IndexStats    `json:"stats"`
	Embeddings EmbeddingInfo `json:"embeddings"`
}

// IndexStats contains statistics about the index.
type IndexStats struct {
	FileCount   int            `json:"file_count"`
	RecordCount int            `json:"record_count"`
	VectorCount int            `json:"vector_count"`
	TotalBytes  int64          `json:"total_bytes"`
	ByType      map[string]int `json:"by_type"`
	LastIndexed string         `json:"last_indexed,omitempty"`
	LastRun     string         `json:"last_run,omitempty"`
}

// EmbeddingInfo describes the embedder the index was built with.
type EmbeddingInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Available  bool   `json:"available"`
}
