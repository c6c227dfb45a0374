package client

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/publicsuffix"

	"github.com/trezcool/ieltstutor/core/session"
)

// CookieStorageKey is where PersistentJar keeps its cookies.
const CookieStorageKey = "ielts-tutor.cookies"

type storedCookie struct {
	URL      string    `json:"url"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
}

// PersistentJar is a cookie jar that survives restarts of short lived clients such as the CLI.
// Cookies set by the server are written to storage and replayed into the jar on start.
type PersistentJar struct {
	jar     *cookiejar.Jar
	storage session.Storage

	mu      sync.Mutex
	cookies map[string]storedCookie // {url|name: cookie}
}

var _ http.CookieJar = (*PersistentJar)(nil)

func NewPersistentJar(storage session.Storage) (*PersistentJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.Wrap(err, "creating cookie jar")
	}
	pj := &PersistentJar{jar: jar, storage: storage, cookies: make(map[string]storedCookie)}

	data, ok, err := storage.Get(CookieStorageKey)
	if err != nil {
		return nil, errors.Wrap(err, "reading cookies")
	}
	if !ok {
		return pj, nil
	}
	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		// unreadable cookies are dropped, the user just signs in again
		return pj, nil
	}
	now := time.Now()
	for _, sc := range stored {
		if !sc.Expires.IsZero() && sc.Expires.Before(now) {
			continue
		}
		u, err := url.Parse(sc.URL)
		if err != nil {
			continue
		}
		pj.cookies[sc.URL+"|"+sc.Name] = sc
		jar.SetCookies(u, []*http.Cookie{sc.cookie()})
	}
	return pj, nil
}

func (sc storedCookie) cookie() *http.Cookie {
	return &http.Cookie{
		Name:     sc.Name,
		Value:    sc.Value,
		Path:     sc.Path,
		Domain:   sc.Domain,
		Expires:  sc.Expires,
		Secure:   sc.Secure,
		HttpOnly: sc.HTTPOnly,
	}
}

func (pj *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	pj.jar.SetCookies(u, cookies)

	pj.mu.Lock()
	defer pj.mu.Unlock()

	origin := (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
	now := time.Now()
	for _, c := range cookies {
		key := origin + "|" + c.Name
		expires := c.Expires
		if c.MaxAge > 0 {
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		if c.MaxAge < 0 || (!expires.IsZero() && expires.Before(now)) {
			delete(pj.cookies, key)
			continue
		}
		pj.cookies[key] = storedCookie{
			URL:      origin,
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
	}
	pj.save()
}

func (pj *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	return pj.jar.Cookies(u)
}

// save must be called with mu held. Failures only cost a re-login, so they are not reported.
func (pj *PersistentJar) save() {
	stored := make([]storedCookie, 0, len(pj.cookies))
	for _, sc := range pj.cookies {
		stored = append(stored, sc)
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return
	}
	_ = pj.storage.Set(CookieStorageKey, data)
}
