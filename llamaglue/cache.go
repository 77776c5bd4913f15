package llamaglue

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/jellydator/ttlcache/v3"

	"llamaglue/grammar"
)

// DefaultGrammarTTL is how long a loaded grammar stays cached.
const DefaultGrammarTTL = 10 * time.Minute

type cachedGrammar struct {
	grammar *grammar.Grammar
	digest  uint64
	size    int64
	modTime time.Time
}

// GrammarCache is a TTL cache of loaded grammars keyed by absolute path.
// A hit is revalidated against the file: unchanged size and mtime are
// trusted, otherwise the contents are hashed and compared with the digest
// taken at load time.
type GrammarCache struct {
	rt    *Runtime
	cache *ttlcache.Cache[string, *cachedGrammar]

	loadMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error

	watchMu  sync.Mutex
	watcher  *fsnotify.Watcher
	watched  map[string]bool
	onChange func(path string)
	done     chan struct{}
}

// NewGrammarCache creates a cache loading through rt. A ttl <= 0 uses
// DefaultGrammarTTL.
func NewGrammarCache(rt *Runtime, ttl time.Duration) *GrammarCache {
	if ttl <= 0 {
		ttl = DefaultGrammarTTL
	}
	c := ttlcache.New[string, *cachedGrammar](
		ttlcache.WithTTL[string, *cachedGrammar](ttl),
		ttlcache.WithDisableTouchOnHit[string, *cachedGrammar](),
	)
	go c.Start()
	return &GrammarCache{rt: rt, cache: c, watched: make(map[string]bool)}
}

// Close stops the expiration loop and the file watcher. Later calls return
// the first call's result.
func (gc *GrammarCache) Close() error {
	gc.closeOnce.Do(func() {
		gc.cache.Stop()

		gc.watchMu.Lock()
		defer gc.watchMu.Unlock()
		if gc.watcher == nil {
			return
		}
		close(gc.done)
		gc.closeErr = gc.watcher.Close()
		gc.watcher = nil
	})
	return gc.closeErr
}

// Len returns the number of cached grammars.
func (gc *GrammarCache) Len() int {
	return gc.cache.Len()
}

// Get returns the grammar at path, loading it on a miss. The returned
// grammar is shared between callers.
func (gc *GrammarCache) Get(path string) (*grammar.Grammar, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		return nil, grammarError(path, KindIO, ErrGrammarIO, err)
	}

	if g, ok := gc.lookup(key); ok {
		gc.rt.metrics.cacheHits.Inc()
		return g, nil
	}

	gc.loadMu.Lock()
	defer gc.loadMu.Unlock()

	// another caller may have loaded it meanwhile
	if g, ok := gc.lookup(key); ok {
		gc.rt.metrics.cacheHits.Inc()
		return g, nil
	}

	info, statErr := os.Stat(key)
	g, src, err := gc.rt.loadGrammar(key)
	if err != nil {
		gc.cache.Delete(key)
		return nil, err
	}

	entry := &cachedGrammar{grammar: g, digest: xxhash.Sum64(src)}
	if statErr == nil {
		entry.size = info.Size()
		entry.modTime = info.ModTime()
	}
	gc.cache.Set(key, entry, ttlcache.DefaultTTL)
	return g, nil
}

func (gc *GrammarCache) lookup(key string) (*grammar.Grammar, bool) {
	item := gc.cache.Get(key)
	if item == nil {
		return nil, false
	}
	entry := item.Value()

	info, err := os.Stat(key)
	if err != nil {
		gc.cache.Delete(key)
		return nil, false
	}
	if info.Size() == entry.size && info.ModTime().Equal(entry.modTime) {
		return entry.grammar, true
	}

	src, err := readGrammarFile(key)
	if err != nil || xxhash.Sum64(src) != entry.digest {
		gc.cache.Delete(key)
		return nil, false
	}

	// touched but unchanged
	gc.cache.Set(key, &cachedGrammar{
		grammar: entry.grammar,
		digest:  entry.digest,
		size:    info.Size(),
		modTime: info.ModTime(),
	}, ttlcache.DefaultTTL)
	return entry.grammar, true
}

// Invalidate drops the cached grammar for path.
func (gc *GrammarCache) Invalidate(path string) {
	key, err := filepath.Abs(path)
	if err != nil {
		return
	}
	gc.cache.Delete(key)
}

// Watch invalidates cached grammars when the files at paths are written,
// removed or renamed. Parent directories are watched so editors that replace
// files are noticed. onChange, if non-nil, is called with the absolute path
// after each invalidation; the latest non-nil callback wins.
func (gc *GrammarCache) Watch(onChange func(path string), paths ...string) error {
	gc.watchMu.Lock()
	defer gc.watchMu.Unlock()

	if onChange != nil {
		gc.onChange = onChange
	}

	if gc.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		gc.watcher = w
		gc.done = make(chan struct{})
		go gc.run(w, gc.done)
	}

	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		gc.watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := gc.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	return nil
}

func (gc *GrammarCache) subscriber(path string) (func(string), bool) {
	gc.watchMu.Lock()
	defer gc.watchMu.Unlock()
	return gc.onChange, gc.watched[path]
}

func (gc *GrammarCache) run(w *fsnotify.Watcher, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			path := filepath.Clean(event.Name)
			onChange, watched := gc.subscriber(path)
			if !watched {
				continue
			}
			gc.cache.Delete(path)
			gc.rt.logger.Debug("grammar changed on disk", "path", path, "op", event.Op.String())
			if onChange != nil {
				onChange(path)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			gc.rt.logger.Error("watcher error", "error", err)
		}
	}
}
