package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/kmeans"
)

// memStore is an in-memory index store. It enforces the same uniqueness
// rules as the schema so ordering bugs surface as errors.
type memStore struct {
	mu        sync.Mutex
	clock     time.Time
	docs      map[string]*domain.Document
	chunks    map[int64]domain.Chunk
	vecs      map[int64][]float32
	nextChunk int64
	links     map[[2]string]struct{}
	entities  map[string][]string
	state     map[string]time.Time

	attachErr       error
	replaceLayerErr error
	stateErr        error
	lexicalErr      error
	lexicalCalls    [][]string
	// honorCtx makes deletes refuse a done context, as pgx does.
	honorCtx bool
}

func newMemStore() *memStore {
	return &memStore{
		clock:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		docs:     make(map[string]*domain.Document),
		chunks:   make(map[int64]domain.Chunk),
		vecs:     make(map[int64][]float32),
		links:    make(map[[2]string]struct{}),
		entities: make(map[string][]string),
		state:    make(map[string]time.Time),
	}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

// put writes a document directly, as the editor would.
func (s *memStore) put(id, title, body string) *domain.Document {
	d := &domain.Document{ID: id, Title: title, Body: body}
	if err := s.Upsert(context.Background(), d); err != nil {
		panic(err)
	}
	return d
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	c := *d
	return &c, nil
}

func (s *memStore) GetMany(_ context.Context, ids []string) ([]*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Document
	for _, id := range ids {
		if d, ok := s.docs[id]; ok && !d.IsArchived() {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) Upsert(_ context.Context, d *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tick()
	if existing, ok := s.docs[d.ID]; ok {
		d.CreatedAt = existing.CreatedAt
	} else {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	d.ArchivedAt = nil
	d.IndexDirty = true
	c := *d
	s.docs[d.ID] = &c
	return nil
}

func (s *memStore) Archive(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	d.ArchivedAt = &at
	d.IndexDirty = false
	return nil
}

func (s *memStore) MarkDirty(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	d.IndexDirty = true
	return nil
}

func (s *memStore) ClearDirty(_ context.Context, id string, readAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok || d.UpdatedAt.After(readAt) {
		return false, nil
	}
	d.IndexDirty = false
	return true, nil
}

func (s *memStore) dirty(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id].IndexDirty
}

func (s *memStore) ListDirty(_ context.Context, limit int) ([]*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Document
	for _, d := range s.docs {
		if d.IndexDirty && !d.IsArchived() {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// SearchLexical matches a term when every word of it occurs in the document,
// OR-combines terms and ranks by the number of matching terms.
func (s *memStore) SearchLexical(_ context.Context, terms []string, limit int) ([]domain.LexicalHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lexicalCalls = append(s.lexicalCalls, append([]string(nil), terms...))
	if s.lexicalErr != nil {
		return nil, s.lexicalErr
	}

	var hits []domain.LexicalHit
	for _, d := range s.docs {
		if d.IsArchived() {
			continue
		}
		present := make(map[string]struct{})
		for _, w := range words(d.Title + " " + d.Body) {
			present[w] = struct{}{}
		}
		rank := 0
		for _, term := range terms {
			ws := words(term)
			all := len(ws) > 0
			for _, w := range ws {
				if _, ok := present[w]; !ok {
					all = false
					break
				}
			}
			if all {
				rank++
			}
		}
		if rank > 0 {
			hits = append(hits, domain.LexicalHit{DocumentID: d.ID, Title: d.Title, UpdatedAt: d.UpdatedAt, Rank: float64(rank)})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Rank != hits[j].Rank {
			return hits[i].Rank > hits[j].Rank
		}
		return hits[i].UpdatedAt.After(hits[j].UpdatedAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *memStore) SearchSubstring(_ context.Context, term string, exclude []string, limit int) ([]domain.LexicalHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	needle := strings.ToLower(strings.TrimSpace(term))
	var hits []domain.LexicalHit
	for _, d := range s.docs {
		if _, ok := skip[d.ID]; ok || d.IsArchived() || needle == "" {
			continue
		}
		if strings.Contains(strings.ToLower(d.Title), needle) || strings.Contains(strings.ToLower(d.Body), needle) {
			hits = append(hits, domain.LexicalHit{DocumentID: d.ID, Title: d.Title, UpdatedAt: d.UpdatedAt})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].UpdatedAt.After(hits[j].UpdatedAt) })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *memStore) checkUnique(c domain.Chunk) error {
	for _, existing := range s.chunks {
		if existing.Layer != c.Layer || existing.DocumentID != c.DocumentID {
			continue
		}
		if existing.Position == c.Position {
			return fmt.Errorf("duplicate chunk position %d in layer %d", c.Position, c.Layer)
		}
		if c.Layer == domain.LayerSummary {
			return errors.New("document already has a summary")
		}
	}
	return nil
}

func (s *memStore) insertLocked(c domain.Chunk) (domain.Chunk, error) {
	if err := s.checkUnique(c); err != nil {
		return c, err
	}
	s.nextChunk++
	c.ID = s.nextChunk
	c.CreatedAt = s.clock
	s.chunks[c.ID] = c
	return c, nil
}

func (s *memStore) InsertChunks(_ context.Context, documentID string, layer domain.Layer, drafts []domain.ChunkDraft) ([]domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Chunk, 0, len(drafts))
	for _, d := range drafts {
		c, err := s.insertLocked(domain.Chunk{
			DocumentID: documentID, Text: d.Text, ContextText: d.ContextText, Layer: layer, Position: d.Position,
		})
		if err != nil {
			for _, done := range out {
				delete(s.chunks, done.ID)
			}
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) AttachEmbeddings(_ context.Context, ids []int64, vectors [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachErr != nil {
		return s.attachErr
	}
	if len(ids) != len(vectors) {
		return errors.New("length mismatch")
	}
	for _, id := range ids {
		if _, ok := s.chunks[id]; !ok {
			return fmt.Errorf("chunk %d missing", id)
		}
	}
	for i, id := range ids {
		s.vecs[id] = vectors[i]
	}
	return nil
}

func (s *memStore) InsertPair(_ context.Context, c domain.Chunk, v []float32) (domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertPairLocked(c, v)
}

func (s *memStore) insertPairLocked(c domain.Chunk, v []float32) (domain.Chunk, error) {
	c, err := s.insertLocked(c)
	if err != nil {
		return c, err
	}
	s.vecs[c.ID] = v
	return c, nil
}

func (s *memStore) deleteLocked(match func(domain.Chunk) bool) {
	for id, c := range s.chunks {
		if match(c) {
			delete(s.vecs, id)
		}
	}
	for id, c := range s.chunks {
		if match(c) {
			delete(s.chunks, id)
		}
	}
}

func (s *memStore) DeleteChunks(ctx context.Context, ids []int64) error {
	if s.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	s.deleteLocked(func(c domain.Chunk) bool { _, ok := set[c.ID]; return ok })
	return nil
}

func hasLayer(layers []domain.Layer, l domain.Layer) bool {
	if len(layers) == 0 {
		return true
	}
	for _, x := range layers {
		if x == l {
			return true
		}
	}
	return false
}

func (s *memStore) DeleteByDocument(_ context.Context, documentID string, layers ...domain.Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(func(c domain.Chunk) bool { return c.DocumentID == documentID && hasLayer(layers, c.Layer) })
	return nil
}

func (s *memStore) DeleteByLayer(_ context.Context, layer domain.Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(func(c domain.Chunk) bool { return c.Layer == layer })
	return nil
}

func (s *memStore) ReplaceDocumentSummary(_ context.Context, documentID string, staged domain.StagedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(func(c domain.Chunk) bool { return c.DocumentID == documentID && c.Layer == domain.LayerSummary })
	c := staged.Chunk
	c.DocumentID = documentID
	c.Layer = domain.LayerSummary
	c.Position = 0
	_, err := s.insertPairLocked(c, staged.Vector)
	return err
}

func (s *memStore) ReplaceLayer(_ context.Context, layer domain.Layer, staged []domain.StagedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceLayerErr != nil {
		return s.replaceLayerErr
	}
	s.deleteLocked(func(c domain.Chunk) bool { return c.Layer == layer })
	for _, st := range staged {
		c := st.Chunk
		c.Layer = layer
		if _, err := s.insertPairLocked(c, st.Vector); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) ListLayer(_ context.Context, layer domain.Layer) ([]domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layerLocked(layer, ""), nil
}

func (s *memStore) layerLocked(layer domain.Layer, documentID string) []domain.Chunk {
	var out []domain.Chunk
	for _, c := range s.chunks {
		if c.Layer == layer && (documentID == "" || c.DocumentID == documentID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].Position < out[j].Position
	})
	return out
}

// docChunks lists a document's chunks in one layer, by position.
func (s *memStore) docChunks(documentID string, layer domain.Layer) []domain.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layerLocked(layer, documentID)
}

func (s *memStore) CountLayer(_ context.Context, layer domain.Layer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.layerLocked(layer, "")), nil
}

type scoredChunk struct {
	c    domain.Chunk
	dist float64
}

func (s *memStore) nearestLocked(vector []float32, layers []domain.Layer) []scoredChunk {
	var out []scoredChunk
	for id, v := range s.vecs {
		c, ok := s.chunks[id]
		if !ok || !hasLayer(layers, c.Layer) {
			continue
		}
		if c.DocumentID != "" {
			if d, ok := s.docs[c.DocumentID]; !ok || d.IsArchived() {
				continue
			}
		}
		out = append(out, scoredChunk{c: c, dist: kmeans.CosineDistance(vector, v)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		return out[i].c.ID < out[j].c.ID
	})
	return out
}

func (s *memStore) SearchNearest(_ context.Context, vector []float32, layers []domain.Layer, limit int) ([]domain.ChunkHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hits []domain.ChunkHit
	for _, sc := range s.nearestLocked(vector, layers) {
		title := ""
		if d, ok := s.docs[sc.c.DocumentID]; ok {
			title = d.Title
		}
		hits = append(hits, domain.ChunkHit{
			ChunkID: sc.c.ID, DocumentID: sc.c.DocumentID, Title: title, Text: sc.c.Text, Layer: sc.c.Layer, Distance: sc.dist,
		})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

func (s *memStore) NearestClusterMembers(_ context.Context, vector []float32, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for i, sc := range s.nearestLocked(vector, []domain.Layer{domain.LayerCluster}) {
		if i == limit {
			break
		}
		ids, err := domain.DecodeMemberIDs(sc.c.ContextText)
		if err != nil {
			continue
		}
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (s *memStore) SummariesFor(_ context.Context, ids []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make(map[string]string)
	for _, c := range s.chunks {
		if _, ok := want[c.DocumentID]; ok && c.Layer == domain.LayerSummary {
			out[c.DocumentID] = c.Text
		}
	}
	return out, nil
}

func (s *memStore) CountOrphans(_ context.Context) (OrphanReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r OrphanReport
	for id := range s.chunks {
		if _, ok := s.vecs[id]; !ok {
			r.ChunksWithoutEmbedding++
		}
	}
	for id := range s.vecs {
		if _, ok := s.chunks[id]; !ok {
			r.EmbeddingsWithoutChunk++
		}
	}
	return r, nil
}

func (s *memStore) ReplaceLinks(_ context.Context, source string, targets []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.links {
		if k[0] == source {
			delete(s.links, k)
		}
	}
	for _, t := range targets {
		if t == source {
			return domain.ErrSelfLink
		}
		s.links[[2]string{source, t}] = struct{}{}
	}
	return nil
}

func (s *memStore) ReplaceEntities(_ context.Context, documentID string, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for _, n := range names {
		keys = append(keys, strings.ToLower(strings.Join(strings.Fields(n), " ")))
	}
	if len(keys) == 0 {
		delete(s.entities, documentID)
		return nil
	}
	s.entities[documentID] = keys
	return nil
}

func (s *memStore) rankNeighbors(overlap map[string]map[string]struct{}, exclude []string, limit int) []domain.GraphNeighbor {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	var out []domain.GraphNeighbor
	for id, via := range overlap {
		if _, ok := skip[id]; ok {
			continue
		}
		if d, ok := s.docs[id]; !ok || d.IsArchived() {
			continue
		}
		out = append(out, domain.GraphNeighbor{DocumentID: id, Overlap: len(via)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Overlap != out[j].Overlap {
			return out[i].Overlap > out[j].Overlap
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *memStore) LinkedNeighbors(_ context.Context, seeds, exclude []string, limit int) ([]domain.GraphNeighbor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seedSet := make(map[string]struct{}, len(seeds))
	for _, id := range seeds {
		seedSet[id] = struct{}{}
	}
	overlap := make(map[string]map[string]struct{})
	add := func(neighbor, via string) {
		if overlap[neighbor] == nil {
			overlap[neighbor] = make(map[string]struct{})
		}
		overlap[neighbor][via] = struct{}{}
	}
	for k := range s.links {
		if _, ok := seedSet[k[0]]; ok {
			add(k[1], k[0])
		}
		if _, ok := seedSet[k[1]]; ok {
			add(k[0], k[1])
		}
	}
	return s.rankNeighbors(overlap, exclude, limit), nil
}

func (s *memStore) EntityNeighbors(_ context.Context, seeds, exclude []string, limit int) ([]domain.GraphNeighbor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seedKeys := make(map[string]struct{})
	for _, id := range seeds {
		for _, k := range s.entities[id] {
			seedKeys[k] = struct{}{}
		}
	}
	overlap := make(map[string]map[string]struct{})
	for doc, keys := range s.entities {
		for _, k := range keys {
			if _, ok := seedKeys[k]; !ok {
				continue
			}
			if overlap[doc] == nil {
				overlap[doc] = make(map[string]struct{})
			}
			overlap[doc][k] = struct{}{}
		}
	}
	return s.rankNeighbors(overlap, exclude, limit), nil
}

func (s *memStore) GetTime(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateErr != nil {
		return time.Time{}, false, s.stateErr
	}
	t, ok := s.state[key]
	return t, ok, nil
}

func (s *memStore) SetTime(_ context.Context, key string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = t
	return nil
}

func (s *memStore) WithTx(_ context.Context, fn func(TxRepositories) error) error {
	return fn(memTx{s})
}

type memTx struct{ s *memStore }

func (t memTx) Documents() DocumentRepositoryInterface { return t.s }
func (t memTx) Chunks() ChunkRepositoryInterface       { return t.s }
func (t memTx) Graph() GraphRepositoryInterface        { return t.s }

type vectorProbe bool

func (p vectorProbe) IsVectorIndexLoaded() bool { return bool(p) }

type inlineSpawner struct{}

func (inlineSpawner) Spawn(_ string, fn func(ctx context.Context)) { fn(context.Background()) }

// hashVector is a bag-of-words embedding: shared words mean nearby vectors.
func hashVector(text string) []float32 {
	v := make([]float32, 64)
	for _, w := range words(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%64]++
	}
	return kmeans.Normalize(v)
}

// fakeProviders stands in for the provider registry.
type fakeProviders struct {
	mu         sync.Mutex
	embedding  bool
	completion bool

	embedFn    func(texts []string) ([][]float32, error)
	completeFn func(system, prompt string) (string, error)
	rankFn     func(query string, candidates []string) ([]int, error)

	embedCalls    int
	completeCalls map[string]int
}

func newFakeProviders(embedding, completion bool) *fakeProviders {
	return &fakeProviders{embedding: embedding, completion: completion, completeCalls: make(map[string]int)}
}

func (p *fakeProviders) HasEmbeddingCredentials() bool  { return p.embedding }
func (p *fakeProviders) HasCompletionCredentials() bool { return p.completion }

func (p *fakeProviders) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.embedCalls++
	fn := p.embedFn
	p.mu.Unlock()
	if !p.embedding {
		return nil, domain.ErrNoEmbeddingCredentials
	}
	if fn != nil {
		return fn(texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return out, nil
}

func promptKind(system string) string {
	switch system {
	case summarySystemPrompt:
		return "summary"
	case themeSystemPrompt:
		return "theme"
	case expansionSystemPrompt:
		return "expansion"
	case entitySystemPrompt:
		return "entity"
	}
	return "other"
}

func (p *fakeProviders) Complete(_ context.Context, system, prompt string) (string, error) {
	p.mu.Lock()
	p.completeCalls[promptKind(system)]++
	fn := p.completeFn
	p.mu.Unlock()
	if !p.completion {
		return "", domain.ErrNoCompletionCredentials
	}
	if fn != nil {
		return fn(system, prompt)
	}
	switch promptKind(system) {
	case "summary":
		return "Summary. " + prompt, nil
	case "theme":
		return "Theme. " + prompt, nil
	}
	return "[]", nil
}

func (p *fakeProviders) Rank(_ context.Context, query string, candidates []string) ([]int, error) {
	if !p.completion {
		return nil, domain.ErrNoCompletionCredentials
	}
	if p.rankFn != nil {
		return p.rankFn(query, candidates)
	}
	return nil, errors.New("rank not configured")
}

func (p *fakeProviders) calls(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completeCalls[kind]
}
