package memory

import (
	"time"

	"regnxt-workbook-be/pkg/store"

	"github.com/patrickmn/go-cache"
)

// SessionRepository keeps open editor sessions in process memory. Sessions that
// are not touched for ttl are evicted.
type SessionRepository struct {
	cache *cache.Cache
}

func NewSessionRepository(ttl, cleanupInterval time.Duration) *SessionRepository {
	c := cache.New(ttl, cleanupInterval)
	return &SessionRepository{
		cache: c,
	}
}

func (r *SessionRepository) Save(session *store.Session) {
	r.cache.Set(session.ID, session, cache.DefaultExpiration)
}

// Get returns the session and extends its lifetime.
func (r *SessionRepository) Get(sessionID string) (*store.Session, bool) {
	if x, found := r.cache.Get(sessionID); found {
		s := x.(*store.Session)
		r.cache.Set(sessionID, s, cache.DefaultExpiration)
		return s, true
	}
	return nil, false
}

func (r *SessionRepository) Delete(sessionID string) {
	r.cache.Delete(sessionID)
}

// FindByWorkbook lists every live session editing workbookID.
func (r *SessionRepository) FindByWorkbook(workbookID int) []*store.Session {
	var out []*store.Session
	for _, item := range r.cache.Items() {
		s, ok := item.Object.(*store.Session)
		if ok && s.WorkbookID == workbookID {
			out = append(out, s)
		}
	}
	return out
}

// OnEvicted registers a callback for sessions dropped by TTL or Delete.
func (r *SessionRepository) OnEvicted(fn func(sessionID string)) {
	r.cache.OnEvicted(func(key string, _ interface{}) {
		fn(key)
	})
}

func (r *SessionRepository) Count() int {
	return r.cache.ItemCount()
}
