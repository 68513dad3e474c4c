package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"outreach-agent-go/internal/types"
)

// MemoryVectorStore 进程内向量库，开发与测试环境的默认后端
// 所有操作持锁，读多写少场景用读写锁
type MemoryVectorStore struct {
	mu sync.RWMutex
	// 按插入顺序保存，Upsert同ID时原地替换
	items []memoryItem
	// id -> items下标，保证Upsert幂等
	index map[string]int
	// doc_id -> 向量ID集合，加速按文档删除与存在性检查
	docIndex map[string]map[string]struct{}
}

type memoryItem struct {
	id      string
	values  []float64
	payload map[string]interface{}
}

// NewMemoryVectorStore 创建空的内存向量库
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		index:    make(map[string]int),
		docIndex: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryVectorStore) Upsert(ctx context.Context, vectors []types.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		if v.ID == "" {
			return fmt.Errorf("向量ID不能为空")
		}
		item := memoryItem{
			id:      v.ID,
			values:  append([]float64(nil), v.Values...),
			payload: v.Metadata.ToPayload(),
		}
		if pos, ok := s.index[v.ID]; ok {
			s.removeDocIndex(s.items[pos])
			s.items[pos] = item
		} else {
			s.index[v.ID] = len(s.items)
			s.items = append(s.items, item)
		}
		s.addDocIndex(item)
	}
	return nil
}

func (s *MemoryVectorStore) Query(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	eq := NormalizeFilter(filter)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]SearchResult, 0, len(s.items))
	for _, item := range s.items {
		if !matchPayload(item.payload, eq) {
			continue
		}
		score, err := cosineSimilarity(vector, item.values)
		if err != nil {
			continue
		}
		results = append(results, SearchResult{
			ID:      item.id,
			Score:   score,
			Payload: clonePayload(item.payload),
		})
	}
	// 分数降序，同分按ID升序保证确定性
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemoryVectorStore) DeleteByDocID(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.docIndex[docID]
	if len(ids) == 0 {
		return nil
	}
	kept := make([]memoryItem, 0, len(s.items)-len(ids))
	for _, item := range s.items {
		if _, drop := ids[item.id]; drop {
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	s.index = make(map[string]int, len(kept))
	for i, item := range kept {
		s.index[item.id] = i
	}
	delete(s.docIndex, docID)
	return nil
}

func (s *MemoryVectorStore) Exists(ctx context.Context, docID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docIndex[docID]) > 0, nil
}

func (s *MemoryVectorStore) Stats(ctx context.Context) (types.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.StoreStats{
		VectorCount:   int64(len(s.items)),
		DocumentCount: int64(len(s.docIndex)),
		Backend:       "memory",
	}, nil
}

func (s *MemoryVectorStore) addDocIndex(item memoryItem) {
	docID, _ := item.payload["doc_id"].(string)
	if docID == "" {
		return
	}
	set, ok := s.docIndex[docID]
	if !ok {
		set = make(map[string]struct{})
		s.docIndex[docID] = set
	}
	set[item.id] = struct{}{}
}

func (s *MemoryVectorStore) removeDocIndex(item memoryItem) {
	docID, _ := item.payload["doc_id"].(string)
	if docID == "" {
		return
	}
	if set, ok := s.docIndex[docID]; ok {
		delete(set, item.id)
		if len(set) == 0 {
			delete(s.docIndex, docID)
		}
	}
}

func matchPayload(payload, eq map[string]interface{}) bool {
	for field, want := range eq {
		got, ok := payload[field]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// cosineSimilarity 精确余弦相似度，零范数向量视为不可比
func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("向量维度不一致: %d != %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("零向量无法计算余弦相似度")
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

func clonePayload(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
