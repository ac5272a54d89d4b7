package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PatternScan/internal/domain/models"
	domrepo "PatternScan/internal/domain/repository"
	"PatternScan/pkg/cache"
	applogger "PatternScan/pkg/logger"
)

const saveLockTTL = 30 * time.Second

// ErrSaveInProgress is returned when another process holds the save lock.
var ErrSaveInProgress = errors.New("library save already in progress")

// CacheLibraryStore keeps the library blob under one key of a cache.Service
// (Redis in production, in-memory in tests). Saves are serialized across
// processes with a short lock.
type CacheLibraryStore struct {
	c   cache.Service
	key string
	l   *applogger.Logger
	now func() time.Time
}

var _ domrepo.LibraryStore = (*CacheLibraryStore)(nil)

func NewCacheLibraryStore(c cache.Service, key string) *CacheLibraryStore {
	if key == "" {
		key = cache.Key("library", "default")
	}
	return &CacheLibraryStore{c: c, key: key, l: applogger.Nop(), now: time.Now}
}

// SetLogger injects a structured logger.
func (s *CacheLibraryStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *CacheLibraryStore) Save(ctx context.Context, patterns []*models.Pattern) error {
	lock := cache.Key(s.key, "lock")
	ok, err := s.c.TryLock(ctx, lock, saveLockTTL)
	if err != nil {
		return fmt.Errorf("save library lock: %w", err)
	}
	if !ok {
		return ErrSaveInProgress
	}
	defer func() {
		if err := s.c.Unlock(context.WithoutCancel(ctx), lock); err != nil {
			s.l.Warn("library save unlock failed", applogger.String("key", s.key), applogger.Error(err))
		}
	}()

	blob, err := EncodeLibrary(patterns, s.now())
	if err != nil {
		return err
	}
	if err := s.c.Set(ctx, s.key, blob, 0); err != nil {
		s.l.Error("library save failed", applogger.String("key", s.key), applogger.Error(err))
		return fmt.Errorf("save library: %w", err)
	}
	s.l.Info("library saved",
		applogger.String("key", s.key),
		applogger.Int("patterns", len(patterns)),
		applogger.Int("bytes", len(blob)),
	)
	return nil
}

// Load returns no patterns when nothing was saved yet.
func (s *CacheLibraryStore) Load(ctx context.Context) ([]*models.Pattern, error) {
	var blob []byte
	if err := s.c.Get(ctx, s.key, &blob); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		s.l.Error("library load failed", applogger.String("key", s.key), applogger.Error(err))
		return nil, fmt.Errorf("load library: %w", err)
	}
	patterns, err := DecodeLibrary(blob, s.l)
	if err != nil {
		return nil, err
	}
	s.l.Info("library loaded", applogger.String("key", s.key), applogger.Int("patterns", len(patterns)))
	return patterns, nil
}
