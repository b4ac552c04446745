package ecocito

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"
)

// sessionJar remembers every live cookie the portal has set, whatever its
// path, so a login can tell whether the portal opened a session at all.
type sessionJar struct {
	*cookiejar.Jar

	mutex sync.Mutex
	live  map[string]struct{}
}

func newSessionJar() (*sessionJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &sessionJar{Jar: jar, live: map[string]struct{}{}}, nil
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.Jar.SetCookies(u, cookies)

	j.mutex.Lock()
	defer j.mutex.Unlock()
	now := time.Now()
	for _, cookie := range cookies {
		key := cookie.Name + ";" + cookie.Path
		if cookie.MaxAge < 0 || (!cookie.Expires.IsZero() && !cookie.Expires.After(now)) {
			delete(j.live, key)
			continue
		}
		j.live[key] = struct{}{}
	}
}

func (j *sessionJar) empty() bool {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return len(j.live) == 0
}
