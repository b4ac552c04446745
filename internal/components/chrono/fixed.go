package chrono

import (
	"sync"
	"time"
)

// FixedImpl is an API whose clock only moves when Set is called.
type FixedImpl struct {
	mutex sync.Mutex
	now   time.Time
}

func NewFixedImpl(now time.Time) *FixedImpl {
	return &FixedImpl{now: now}
}

func (f *FixedImpl) Set(now time.Time) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = now
}

func (f *FixedImpl) Now() time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.now
}

func (f *FixedImpl) Location() *time.Location {
	return f.Now().Location()
}
