// client.go contains the session handling for the ecocito portal, the queries
// made with that session live in query.go.

package ecocito

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"ecocito-poller/internal/components/assert"
	"ecocito-poller/internal/components/chrono"
	"ecocito-poller/internal/components/telemetry"
	"ecocito-poller/pkg/htmlutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	report_client_authenticate = "client.authenticate"
)

const (
	loginEndpoint    = "/Usager/Profil/Connexion"
	loginUsernameKey = "Identifiant"
	loginPasswordKey = "MotDePasse"

	// rendered on a failed login
	validationErrorSelector = "div.validation-summary-errors"
	// the login form, served in place of data once the session is gone
	loginFormSelector = "input[name=Identifiant]"
)

var tracer = otel.Tracer("internal/scrapers/ecocito")

// Options configures a Client.
type Options struct {
	// Domain is the tenant, either `sivom` or `sivom.ecocito.com`.
	Domain   string
	Username string
	Password string
	// BaseUrl overrides the portal url derived from Domain.
	BaseUrl string
	// Timeout is handed to the transport, defaults to 30s.
	Timeout time.Duration
	// RequestsPerSecond defaults to 2, negative values disable rate limiting.
	RequestsPerSecond float64
	// MessageOutput receives every HTTP exchange when set.
	MessageOutput telemetry.MessageOutput
}

// Client is a session with an ecocito portal. The cookie jar it holds is
// shared by every request it makes, it is safe for concurrent use.
type Client struct {
	baseUrl *url.URL
	http    *resty.Client
	jar     *sessionJar
	tel     telemetry.API
	time    chrono.API

	credsLock sync.RWMutex
	username  string
	password  string
}

// NormalizeDomain returns the tenant part of a domain, `sivom.ecocito.com` -> `sivom`.
func NormalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	return strings.ToLower(strings.Split(domain, ".")[0])
}

// PortalUrl is the base url of a tenant's portal.
func PortalUrl(domain string) string {
	return fmt.Sprintf("https://%s.ecocito.com", NormalizeDomain(domain))
}

func NewClient(opts Options, tel telemetry.API, clock chrono.API) (*Client, error) {
	assert.NotNil(tel)
	assert.NotNil(clock)

	tel = telemetry.NewScopedAPI("ecocito_scraper", tel)

	baseUrl := opts.BaseUrl
	if baseUrl == "" {
		if NormalizeDomain(opts.Domain) == "" {
			return nil, fmt.Errorf("ecocito scraper: domain is required")
		}
		baseUrl = PortalUrl(opts.Domain)
	}
	parsedBaseUrl, err := url.Parse(baseUrl)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second * 30
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(baseUrl)
	jar, err := newSessionJar()
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(parsedBaseUrl.Hostname()))
	httpClient.SetTimeout(timeout)

	limit := rate.Limit(2)
	switch {
	case opts.RequestsPerSecond < 0:
		limit = rate.Inf
	case opts.RequestsPerSecond > 0:
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	// max burst >= 2 just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(limit, 2)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel, opts.MessageOutput)

	return &Client{
		baseUrl:  parsedBaseUrl,
		http:     httpClient,
		jar:      jar,
		tel:      tel,
		time:     clock,
		username: opts.Username,
		password: opts.Password,
	}, nil
}

// BaseUrl is the portal this client talks to.
func (c *Client) BaseUrl() *url.URL {
	return c.baseUrl
}

// SetCredentials replaces the credentials used by the next Authenticate.
func (c *Client) SetCredentials(username, password string) {
	c.credsLock.Lock()
	defer c.credsLock.Unlock()
	c.username = username
	c.password = password
}

func (c *Client) credentials() (string, string) {
	c.credsLock.RLock()
	defer c.credsLock.RUnlock()
	return c.username, c.password
}

// Authenticate logs into the portal, the resulting cookies are reused by every
// subsequent request made by this client.
func (c *Client) Authenticate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "client:Authenticate")
	defer span.End()

	username, password := c.credentials()
	span.SetAttributes(attribute.String("username", username))

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			loginUsernameKey: username,
			loginPasswordKey: password,
		}).
		Post(loginEndpoint)
	if err != nil {
		c.tel.ReportBroken(
			report_client_authenticate,
			fmt.Errorf("login request: %w", err),
		)
		return fail(&ConnectionError{Op: "authenticate", Err: err})
	}
	if !res.IsSuccess() {
		return fail(&ConnectionError{
			Op:  "authenticate",
			Err: &StatusError{StatusCode: res.StatusCode(), Status: res.Status()},
		})
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		c.tel.ReportBroken(
			report_client_authenticate,
			fmt.Errorf("parse login response: %w", err),
		)
		return fail(fmt.Errorf("parse login response: %w", err))
	}

	validationErrors := doc.Find(validationErrorSelector).First()
	if validationErrors.Length() > 0 {
		message, ok := htmlutil.FirstText(validationErrors.Find("li"))
		if !ok {
			message = htmlutil.CleanText(validationErrors.Text())
		}
		c.tel.ReportWarning(report_client_authenticate, "login rejected", username, message)
		return fail(&InvalidAuthError{Message: message})
	}

	if c.jar.empty() {
		c.tel.ReportWarning(report_client_authenticate, "no session cookie", username)
		return fail(&InvalidAuthError{})
	}

	c.tel.ReportDebug("connected", username)
	return nil
}
