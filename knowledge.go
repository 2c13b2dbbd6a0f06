package main

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	chunkRows      = 5
	upsertBatch    = 100
	maxEmbedChars  = 8000
	minMatchScore  = 0.005
	embedCacheSize = 512
)

var errEmptyText = errors.New("cannot embed empty text")

// Embedder turns text into a fixed-size vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// cachedEmbedder remembers query embeddings; repeated questions skip the model.
type cachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

func newCachedEmbedder(inner Embedder, size int) (*cachedEmbedder, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &cachedEmbedder{inner: inner, cache: c}, nil
}

func (e *cachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errEmptyText
	}
	if v, ok := e.cache.Get(text); ok {
		return v, nil
	}
	v, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, v)
	return v, nil
}

func (e *cachedEmbedder) Dimension() int { return e.inner.Dimension() }

// Chunk is a group of rows rendered to text and embedded together.
type Chunk struct {
	ID        string
	Kind      string
	Text      string
	RecordIDs []string
	Language  string
	Embedding []float32
}

type Match struct {
	Chunk Chunk
	Score float64
}

type VectorIndex interface {
	Reset(ctx context.Context) error
	Upsert(ctx context.Context, chunks []Chunk) error
	// Query returns up to topK chunks ordered by descending similarity.
	// An empty language matches every chunk.
	Query(ctx context.Context, vec []float32, topK int, language string) ([]Match, error)
	Count(ctx context.Context) (int, error)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func rankChunks(chunks []Chunk, vec []float32, topK int, language string) []Match {
	matches := make([]Match, 0, len(chunks))
	for _, c := range chunks {
		if language != "" && c.Language != "" && c.Language != language {
			continue
		}
		matches = append(matches, Match{Chunk: c, Score: cosine(vec, c.Embedding)})
	}
	slices.SortStableFunc(matches, func(a, b Match) int { return cmp.Compare(b.Score, a.Score) })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

type memoryIndex struct {
	mu     sync.RWMutex
	order  []string
	chunks map[string]Chunk
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{chunks: make(map[string]Chunk)}
}

func (x *memoryIndex) Reset(context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.order = nil
	x.chunks = make(map[string]Chunk)
	return nil
}

func (x *memoryIndex) Upsert(_ context.Context, chunks []Chunk) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, c := range chunks {
		if _, ok := x.chunks[c.ID]; !ok {
			x.order = append(x.order, c.ID)
		}
		x.chunks[c.ID] = c
	}
	return nil
}

func (x *memoryIndex) Query(_ context.Context, vec []float32, topK int, language string) ([]Match, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	all := make([]Chunk, 0, len(x.order))
	for _, id := range x.order {
		all = append(all, x.chunks[id])
	}
	return rankChunks(all, vec, topK, language), nil
}

func (x *memoryIndex) Count(context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.chunks), nil
}

// sqlIndex stores chunks in knowledge_chunks with vectors as JSON text and
// ranks them in process.
type sqlIndex struct {
	db      *sql.DB
	dialect sqlDialect
}

func newSQLIndex(db *sql.DB, d sqlDialect) *sqlIndex {
	return &sqlIndex{db: db, dialect: d}
}

func (x *sqlIndex) Migrate(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS knowledge_chunks (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		text TEXT NOT NULL,
		record_ids TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		embedding TEXT NOT NULL
	)`
	if _, err := x.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrate knowledge_chunks: %w", err)
	}
	return nil
}

func (x *sqlIndex) Reset(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, "DELETE FROM knowledge_chunks"); err != nil {
		return fmt.Errorf("reset knowledge index: %w", err)
	}
	return nil
}

func (x *sqlIndex) Upsert(ctx context.Context, chunks []Chunk) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	b := x.dialect.bind
	stmt := fmt.Sprintf(`INSERT INTO knowledge_chunks (id, kind, text, record_ids, language, embedding)
		VALUES (%s, %s, %s, %s, %s, %s)
		ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, text = excluded.text,
			record_ids = excluded.record_ids, language = excluded.language, embedding = excluded.embedding`,
		b(1), b(2), b(3), b(4), b(5), b(6))

	for _, c := range chunks {
		ids, err := json.Marshal(c.RecordIDs)
		if err != nil {
			return fmt.Errorf("marshal record ids: %w", err)
		}
		vec, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, stmt, c.ID, c.Kind, c.Text, string(ids), c.Language, string(vec)); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (x *sqlIndex) Query(ctx context.Context, vec []float32, topK int, language string) ([]Match, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT id, kind, text, record_ids, language, embedding FROM knowledge_chunks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query knowledge index: %w", err)
	}
	defer rows.Close()

	var all []Chunk
	for rows.Next() {
		var c Chunk
		var ids, emb string
		if err := rows.Scan(&c.ID, &c.Kind, &c.Text, &ids, &c.Language, &emb); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &c.RecordIDs); err != nil {
			return nil, fmt.Errorf("decode record ids of %s: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(emb), &c.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding of %s: %w", c.ID, err)
		}
		all = append(all, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read knowledge index: %w", err)
	}
	return rankChunks(all, vec, topK, language), nil
}

func (x *sqlIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM knowledge_chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count knowledge index: %w", err)
	}
	return n, nil
}

// KnowledgeBase indexes the restaurant's rows and retrieves the ones
// relevant to a question.
type KnowledgeBase struct {
	embedder Embedder
	index    VectorIndex
	menu     RecordStore
	details  RecordStore
}

func NewKnowledgeBase(embedder Embedder, index VectorIndex, menu, details RecordStore) *KnowledgeBase {
	return &KnowledgeBase{embedder: embedder, index: index, menu: menu, details: details}
}

var queryStopwords = map[string]bool{
	"what": true, "is": true, "are": true, "the": true, "a": true, "an": true,
	"do": true, "does": true, "you": true, "have": true, "how": true, "much": true,
	"can": true, "i": true, "your": true, "of": true, "for": true, "to": true,
	"please": true, "tell": true, "me": true, "about": true, "any": true,
}

// queryVariations returns the query, its content words, and the content
// words framed as menu and price lookups.
func queryVariations(query string) []string {
	q := strings.TrimSpace(query)
	out := []string{q}

	var words []string
	for _, w := range strings.Fields(strings.ToLower(q)) {
		w = strings.Trim(w, "?!.,;:'\"")
		if w != "" && !queryStopwords[w] {
			words = append(words, w)
		}
	}
	kw := strings.Join(words, " ")
	if kw == "" {
		return out
	}
	for _, v := range []string{kw, "menu " + kw, "price " + kw} {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// Search embeds each variation of the query, keeps matches above the score
// floor, drops repeated content and returns the best topK chunks.
func (kb *KnowledgeBase) Search(ctx context.Context, query, language string, topK int) ([]Match, error) {
	best := make(map[string]Match)
	for _, v := range queryVariations(query) {
		vec, err := kb.embedder.Embed(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		matches, err := kb.index.Query(ctx, vec, 2*topK, language)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if m.Score <= minMatchScore {
				continue
			}
			if prev, ok := best[m.Chunk.Text]; !ok || m.Score > prev.Score {
				best[m.Chunk.Text] = m
			}
		}
	}

	out := make([]Match, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk.ID, b.Chunk.ID)
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Sync rebuilds the index from both tables and returns the chunk count.
func (kb *KnowledgeBase) Sync(ctx context.Context) (int, error) {
	menu, err := kb.menu.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list menu: %w", err)
	}
	details, err := kb.details.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list details: %w", err)
	}

	var chunks []Chunk
	chunks = append(chunks, buildChunks("menu", menu, func(r Record) string {
		return fmt.Sprintf("Menu Item: %s\nPrice: %s\nDescription: %s", r.Get("name"), r.Get("price"), r.Get("description"))
	})...)
	chunks = append(chunks, buildChunks("details", details, func(r Record) string {
		return fmt.Sprintf("Restaurant Detail: %s\nDescription: %s", r.Get("details"), r.Get("description"))
	})...)

	for i := range chunks {
		vec, err := kb.embedder.Embed(ctx, chunks[i].Text)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %s: %w", chunks[i].ID, err)
		}
		if dim := kb.embedder.Dimension(); dim > 0 && len(vec) != dim {
			return 0, fmt.Errorf("embed chunk %s: got %d dimensions, want %d", chunks[i].ID, len(vec), dim)
		}
		chunks[i].Embedding = vec
	}

	if err := kb.index.Reset(ctx); err != nil {
		return 0, err
	}
	for batch := range slices.Chunk(chunks, upsertBatch) {
		if err := kb.index.Upsert(ctx, batch); err != nil {
			return 0, err
		}
	}
	log.Printf("knowledge index rebuilt: %d menu rows, %d detail rows, %d chunks", len(menu), len(details), len(chunks))
	return len(chunks), nil
}

func buildChunks(kind string, records []Record, format func(Record) string) []Chunk {
	var out []Chunk
	for group := range slices.Chunk(records, chunkRows) {
		texts := make([]string, len(group))
		ids := make([]string, len(group))
		for i, r := range group {
			texts[i] = format(r)
			ids[i] = r.ID
		}
		text := strings.Join(texts, "\n\n")
		if len(text) > maxEmbedChars {
			text = truncateUTF8(text, maxEmbedChars)
		}
		out = append(out, Chunk{ID: chunkID(kind, ids), Kind: kind, Text: text, RecordIDs: ids})
	}
	return out
}

func chunkID(kind string, ids []string) string {
	h := fnv.New64a()
	h.Write([]byte(kind))
	for _, id := range ids {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return fmt.Sprintf("%s-%016x", kind, h.Sum64())
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
