package knowledge

import "context"

// Embedder is an interface for generating text embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever answers similarity queries over the corpus: it embeds the
// query text and delegates ranking to the store.
type Retriever struct {
	store    Store
	embedder Embedder
	k        int
}

// NewRetriever creates a Retriever returning the top k entries per query.
func NewRetriever(store Store, embedder Embedder, k int) *Retriever {
	return &Retriever{store: store, embedder: embedder, k: k}
}

// Retrieve returns the entries most similar to the query text, most
// similar first.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Scored, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.store.Search(ctx, vector, r.k)
}
