package core

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DagStore is the abstract content-addressed storage contract of spec.md
// §4.1. Both the in-memory and filesystem backends below satisfy it; any
// other backend implementing this interface is equally acceptable (the core
// specifies only the contract, not a concrete backend, per spec.md §1).
type DagStore interface {
	Put(ctx context.Context, block DagBlock) error
	Get(ctx context.Context, cid Cid) (*DagBlock, error)
	Delete(ctx context.Context, cid Cid) error
	Contains(ctx context.Context, cid Cid) (bool, error)
	Len(ctx context.Context) (int, error)
	ListBlocks(ctx context.Context) ([]Cid, error)
	Pin(ctx context.Context, cid Cid) error
	Unpin(ctx context.Context, cid Cid) error
	SetTTL(ctx context.Context, cid Cid, ttl *time.Duration) error
	PruneExpired(ctx context.Context, now time.Time) ([]Cid, error)
	GetMetadata(ctx context.Context, cid Cid) (*BlockMetadata, error)
}

// MemoryDagStore is an in-memory DagStore, generalized from core/ipfs.go's
// IPFSService into the abstract contract of spec.md §4.1. It is the
// reference backend used by tests and by in-process job pipelines that
// don't need durability.
type MemoryDagStore struct {
	mu       sync.Mutex
	blocks   map[string]DagBlock
	metadata map[string]BlockMetadata
	log      *logrus.Entry
}

// NewMemoryDagStore constructs an empty MemoryDagStore.
func NewMemoryDagStore() *MemoryDagStore {
	return &MemoryDagStore{
		blocks:   make(map[string]DagBlock),
		metadata: make(map[string]BlockMetadata),
		log:      logrus.WithField("component", "dag_store"),
	}
}

// Put verifies block's integrity and stores it, per spec.md §4.1.
func (s *MemoryDagStore) Put(_ context.Context, block DagBlock) error {
	if err := block.VerifyIntegrity(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := block.Cid.String()
	if _, exists := s.blocks[key]; !exists {
		s.metadata[key] = BlockMetadata{CreatedAt: time.Now()}
	}
	s.blocks[key] = block
	s.log.WithField("cid", key).Debug("dag block put")
	return nil
}

// Get returns the block for cid, or nil if absent, checking on read that
// the stored block's Cid equals cid (spec.md §4.1). It does not recompute
// the Cid from the block's fields; Put has already done that.
func (s *MemoryDagStore) Get(_ context.Context, cid Cid) (*DagBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[cid.String()]
	if !ok {
		return nil, nil
	}
	if !b.Cid.Equals(cid) {
		return nil, NewError(KindDagOperationFailed, "stored block cid mismatch")
	}
	return &b, nil
}

func (s *MemoryDagStore) Delete(_ context.Context, cid Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cid.String()
	delete(s.blocks, key)
	delete(s.metadata, key)
	return nil
}

func (s *MemoryDagStore) Contains(_ context.Context, cid Cid) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocks[cid.String()]
	return ok, nil
}

func (s *MemoryDagStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks), nil
}

func (s *MemoryDagStore) ListBlocks(_ context.Context) ([]Cid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Cid, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b.Cid)
	}
	return out, nil
}

func (s *MemoryDagStore) Pin(_ context.Context, cid Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metadata[cid.String()]
	m.Pinned = true
	s.metadata[cid.String()] = m
	return nil
}

func (s *MemoryDagStore) Unpin(_ context.Context, cid Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metadata[cid.String()]
	m.Pinned = false
	s.metadata[cid.String()] = m
	return nil
}

func (s *MemoryDagStore) SetTTL(_ context.Context, cid Cid, ttl *time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cid.String()
	if _, ok := s.blocks[key]; !ok {
		return NewError(KindResourceNotFound, "unknown cid")
	}
	m := s.metadata[key]
	m.TTL = ttl
	s.metadata[key] = m
	return nil
}

func (s *MemoryDagStore) PruneExpired(_ context.Context, now time.Time) ([]Cid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []Cid
	for key, m := range s.metadata {
		if m.Expired(now) {
			removed = append(removed, s.blocks[key].Cid)
			delete(s.blocks, key)
			delete(s.metadata, key)
		}
	}
	return removed, nil
}

func (s *MemoryDagStore) GetMetadata(_ context.Context, cid Cid) (*BlockMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metadata[cid.String()]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// persistedBlock is the JSON-on-disk shape for the filesystem backend.
type persistedBlock struct {
	Cid       string              `json:"cid"`
	Data      []byte              `json:"data"`
	Links     []persistedLink     `json:"links"`
	Timestamp int64               `json:"timestamp"`
	AuthorDid string              `json:"author_did"`
	Signature []byte              `json:"signature,omitempty"`
	Scope     string              `json:"scope,omitempty"`
	Metadata  persistedBlockMeta  `json:"metadata"`
}

type persistedLink struct {
	Cid  string `json:"cid"`
	Name string `json:"name"`
	Size uint64 `json:"size"`
}

type persistedBlockMeta struct {
	Pinned    bool       `json:"pinned"`
	TTLMs     *int64     `json:"ttl_ms,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// FileDagStore is the sharded filesystem backend required by spec.md §4.1:
// blocks addressed by CID string s live at root/s[0..2]/s[2..4]/s, two
// levels deep to bound per-directory entry counts. Grounded on
// icn-dag/tests/file_sharding.rs's sharding scheme and on core/ipfs.go's
// pin/get/unpin surface.
type FileDagStore struct {
	mu   sync.Mutex
	root string
	log  *logrus.Entry
}

// NewFileDagStore roots a FileDagStore at dir, creating it if needed.
func NewFileDagStore(dir string) (*FileDagStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, WrapError(KindDatabaseError, "create dag store root", err)
	}
	return &FileDagStore{root: dir, log: logrus.WithField("component", "dag_store_fs")}, nil
}

func (s *FileDagStore) shardPath(cidStr string) string {
	if len(cidStr) < 4 {
		return filepath.Join(s.root, cidStr)
	}
	return filepath.Join(s.root, cidStr[0:2], cidStr[2:4], cidStr)
}

func (s *FileDagStore) Put(_ context.Context, block DagBlock) error {
	if err := block.VerifyIntegrity(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := block.Cid.String()
	path := s.shardPath(key)
	var existing persistedBlock
	createdAt := time.Now()
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &existing); err == nil {
			createdAt = existing.Metadata.CreatedAt
		}
	}
	rec := toPersisted(block, persistedBlockMeta{CreatedAt: createdAt})
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WrapError(KindDatabaseError, "create shard dir", err)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return WrapError(KindSerializationError, "encode dag block", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return WrapError(KindDatabaseError, "write dag block", err)
	}
	s.log.WithField("cid", key).Debug("dag block put")
	return nil
}

func (s *FileDagStore) Get(_ context.Context, cid Cid) (*DagBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(cid.String())
	if err != nil || rec == nil {
		return nil, err
	}
	block, err := fromPersisted(*rec)
	if err != nil {
		return nil, err
	}
	if !block.Cid.Equals(cid) {
		return nil, NewError(KindDagOperationFailed, "stored block cid mismatch")
	}
	return &block, nil
}

func (s *FileDagStore) read(cidStr string) (*persistedBlock, error) {
	path := s.shardPath(cidStr)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, WrapError(KindDatabaseError, "read dag block", err)
	}
	var rec persistedBlock
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, WrapError(KindDeserializationError, "decode dag block", err)
	}
	return &rec, nil
}

func (s *FileDagStore) Delete(_ context.Context, cid Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.shardPath(cid.String())
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return WrapError(KindDatabaseError, "delete dag block", err)
	}
	return nil
}

func (s *FileDagStore) Contains(_ context.Context, cid Cid) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.shardPath(cid.String()))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, WrapError(KindDatabaseError, "stat dag block", err)
	}
	return true, nil
}

func (s *FileDagStore) Len(ctx context.Context) (int, error) {
	cids, err := s.ListBlocks(ctx)
	if err != nil {
		return 0, err
	}
	return len(cids), nil
}

func (s *FileDagStore) ListBlocks(_ context.Context) ([]Cid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Cid
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var rec persistedBlock
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil
		}
		block, err := fromPersisted(rec)
		if err != nil {
			return nil
		}
		out = append(out, block.Cid)
		return nil
	})
	if err != nil {
		return nil, WrapError(KindDatabaseError, "walk dag store", err)
	}
	return out, nil
}

func (s *FileDagStore) Pin(_ context.Context, cid Cid) error {
	return s.mutateMeta(cid, func(m *persistedBlockMeta) { m.Pinned = true })
}

func (s *FileDagStore) Unpin(_ context.Context, cid Cid) error {
	return s.mutateMeta(cid, func(m *persistedBlockMeta) { m.Pinned = false })
}

func (s *FileDagStore) SetTTL(_ context.Context, cid Cid, ttl *time.Duration) error {
	return s.mutateMeta(cid, func(m *persistedBlockMeta) {
		if ttl == nil {
			m.TTLMs = nil
			return
		}
		ms := ttl.Milliseconds()
		m.TTLMs = &ms
	})
}

func (s *FileDagStore) mutateMeta(cid Cid, fn func(*persistedBlockMeta)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(cid.String())
	if err != nil {
		return err
	}
	if rec == nil {
		return NewError(KindResourceNotFound, "unknown cid")
	}
	fn(&rec.Metadata)
	raw, err := json.Marshal(rec)
	if err != nil {
		return WrapError(KindSerializationError, "encode dag block", err)
	}
	return os.WriteFile(s.shardPath(cid.String()), raw, 0o644)
}

func (s *FileDagStore) PruneExpired(ctx context.Context, now time.Time) ([]Cid, error) {
	cids, err := s.ListBlocks(ctx)
	if err != nil {
		return nil, err
	}
	var removed []Cid
	for _, cid := range cids {
		s.mu.Lock()
		rec, err := s.read(cid.String())
		s.mu.Unlock()
		if err != nil || rec == nil {
			continue
		}
		meta := toBlockMetadata(rec.Metadata)
		if meta.Expired(now) {
			if err := s.Delete(ctx, cid); err == nil {
				removed = append(removed, cid)
			}
		}
	}
	return removed, nil
}

func (s *FileDagStore) GetMetadata(_ context.Context, cid Cid) (*BlockMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(cid.String())
	if err != nil || rec == nil {
		return nil, err
	}
	m := toBlockMetadata(rec.Metadata)
	return &m, nil
}

func toBlockMetadata(m persistedBlockMeta) BlockMetadata {
	out := BlockMetadata{Pinned: m.Pinned, CreatedAt: m.CreatedAt}
	if m.TTLMs != nil {
		d := time.Duration(*m.TTLMs) * time.Millisecond
		out.TTL = &d
	}
	return out
}

func toPersisted(b DagBlock, meta persistedBlockMeta) persistedBlock {
	links := make([]persistedLink, len(b.Links))
	for i, l := range b.Links {
		links[i] = persistedLink{Cid: l.Cid.String(), Name: l.Name, Size: l.Size}
	}
	return persistedBlock{
		Cid:       b.Cid.String(),
		Data:      b.Data,
		Links:     links,
		Timestamp: b.Timestamp,
		AuthorDid: string(b.AuthorDid),
		Signature: b.Signature,
		Scope:     b.Scope,
		Metadata:  meta,
	}
}

func fromPersisted(rec persistedBlock) (DagBlock, error) {
	cid, err := parseCid(rec.Cid)
	if err != nil {
		return DagBlock{}, err
	}
	links := make([]DagLink, len(rec.Links))
	for i, l := range rec.Links {
		lc, err := parseCid(l.Cid)
		if err != nil {
			return DagBlock{}, err
		}
		links[i] = DagLink{Cid: lc, Name: l.Name, Size: l.Size}
	}
	return DagBlock{
		Cid:       cid,
		Data:      rec.Data,
		Links:     links,
		Timestamp: rec.Timestamp,
		AuthorDid: Did(rec.AuthorDid),
		Signature: rec.Signature,
		Scope:     rec.Scope,
	}, nil
}
