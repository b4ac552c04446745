// Package ecocitotest provides an in-memory ecocito portal for tests.
package ecocitotest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"ecocito-poller/internal/scrapers/ecocito"
)

const SessionCookie = ".ASPXAUTH"

const loginPage = `<html><body>
<form method="post" action="/Usager/Profil/Connexion">
	<input name="Identifiant" type="text" />
	<input name="MotDePasse" type="password" />
</form>
</body></html>`

const rejectedLoginPage = `<html><body>
<div class="validation-summary-errors"><ul><li>%s</li></ul></div>
<form method="post" action="/Usager/Profil/Connexion">
	<input name="Identifiant" type="text" />
	<input name="MotDePasse" type="password" />
</form>
</body></html>`

// RejectedLoginMessage is the validation message served for bad credentials.
const RejectedLoginMessage = "Identifiant ou mot de passe incorrect"

// Row is one entry of the `data` array served by the portal.
type Row struct {
	Date     string  `json:"DATE_DONNEE"`
	Location string  `json:"LIBELLE_ADRESSE,omitempty"`
	Quantity float64 `json:"QUANTITE_NETTE"`
}

// Response overrides what the data endpoints serve.
type Response struct {
	Status int
	Body   string
}

// Portal is a fake ecocito portal with one account.
type Portal struct {
	Server *httptest.Server

	mutex       sync.Mutex
	username    string
	password    string
	sessions    map[string]bool
	nextSession int
	collections map[int][]Row
	depotVisits []Row
	override    *Response
	logins      int
	queries     []url.Values
}

// NewPortal starts a portal accepting the given credentials, it is closed
// when the test ends.
func NewPortal(t interface{ Cleanup(func()) }, username, password string) *Portal {
	p := &Portal{
		username:    username,
		password:    password,
		sessions:    map[string]bool{},
		collections: map[int][]Row{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/Usager/Profil/Connexion", p.handleLogin)
	mux.HandleFunc("/Usager/Collecte/GetCollecte", p.handleCollections)
	mux.HandleFunc("/Usager/Apport/GetApport", p.handleDepotVisits)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)

	return p
}

func (p *Portal) URL() string {
	return p.Server.URL
}

func (p *Portal) SetCollections(eventType ecocito.EventType, rows ...Row) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.collections[int(eventType)] = rows
}

func (p *Portal) SetDepotVisits(rows ...Row) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.depotVisits = rows
}

// SetResponse makes both data endpoints serve res to authenticated
// requests, nil restores the normal behavior.
func (p *Portal) SetResponse(res *Response) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.override = res
}

func (p *Portal) SetCredentials(username, password string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.username = username
	p.password = password
}

// ExpireSessions forgets every session handed out so far.
func (p *Portal) ExpireSessions() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.sessions = map[string]bool{}
}

func (p *Portal) Logins() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.logins
}

// Queries returns the query strings of every authenticated data request.
func (p *Portal) Queries() []url.Values {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	out := make([]url.Values, len(p.queries))
	copy(out, p.queries)
	return out
}

func (p *Portal) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("content-type", "text/html")
		fmt.Fprint(w, loginPage)
		return
	}
	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logins++
	w.Header().Set("content-type", "text/html")
	if r.PostForm.Get("Identifiant") != p.username || r.PostForm.Get("MotDePasse") != p.password {
		fmt.Fprintf(w, rejectedLoginPage, RejectedLoginMessage)
		return
	}

	p.nextSession++
	session := strconv.Itoa(p.nextSession)
	p.sessions[session] = true
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session,
		Path:     "/",
		HttpOnly: true,
	})
	fmt.Fprint(w, "<html><body>Bienvenue</body></html>")
}

// authorized reports whether the request carries a live session, the mutex must be held.
func (p *Portal) authorized(r *http.Request) bool {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return false
	}
	return p.sessions[cookie.Value]
}

func (p *Portal) serveRows(w http.ResponseWriter, r *http.Request, rows func(query url.Values) []Row) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.authorized(r) {
		w.Header().Set("content-type", "text/html")
		fmt.Fprint(w, loginPage)
		return
	}

	query := r.URL.Query()
	p.queries = append(p.queries, query)

	if p.override != nil {
		w.WriteHeader(p.override.Status)
		fmt.Fprint(w, p.override.Body)
		return
	}

	year := strings.SplitN(query.Get("dateDebut"), "-", 2)[0]
	matching := []Row{}
	for _, row := range rows(query) {
		if strings.HasPrefix(row.Date, year) {
			matching = append(matching, row)
		}
	}

	w.Header().Set("content-type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data":       matching,
		"totalCount": len(matching),
	})
}

func (p *Portal) handleCollections(w http.ResponseWriter, r *http.Request) {
	p.serveRows(w, r, func(query url.Values) []Row {
		eventType, err := strconv.Atoi(query.Get("idMatiere"))
		if err != nil {
			return nil
		}
		return p.collections[eventType]
	})
}

func (p *Portal) handleDepotVisits(w http.ResponseWriter, r *http.Request) {
	p.serveRows(w, r, func(url.Values) []Row {
		return p.depotVisits
	})
}
