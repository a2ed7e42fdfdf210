package cluster

import "time"

// Cluster groups similar headlines so only one contract is generated per
// topic per day.
type Cluster struct {
	ID               string    `json:"cluster_id"`
	PrimaryHeadline  string    `json:"primary_headline"`
	SimilarHeadlines []string  `json:"similar_headlines"`
	TopicSignature   string    `json:"topic_signature"`
	EntitySignature  string    `json:"entity_signature"`
	LastContractAt   time.Time `json:"last_contract_at"`
	TotalHeadlines   int       `json:"total_headlines"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store holds active clusters. List must return clusters in insertion order;
// the engine relies on that order to break similarity ties deterministically.
// Implementations need not be safe for concurrent use: the engine serializes
// all access behind its own mutex.
type Store interface {
	List() []*Cluster
	Get(id string) (*Cluster, bool)
	Put(c *Cluster)
	Delete(id string)
	Len() int
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	order []string
	byID  map[string]*Cluster
}

// NewMemoryStore creates an empty in-memory cluster store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Cluster)}
}

func (s *MemoryStore) List() []*Cluster {
	out := make([]*Cluster, 0, len(s.order))
	for _, id := range s.order {
		if c, ok := s.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *MemoryStore) Get(id string) (*Cluster, bool) {
	c, ok := s.byID[id]
	return c, ok
}

func (s *MemoryStore) Put(c *Cluster) {
	if _, exists := s.byID[c.ID]; !exists {
		s.order = append(s.order, c.ID)
	}
	s.byID[c.ID] = c
}

func (s *MemoryStore) Delete(id string) {
	if _, exists := s.byID[id]; !exists {
		return
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *MemoryStore) Len() int {
	return len(s.byID)
}
