package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/invitation-dn/guestgate/internal/xerrors"
)

const (
	DefaultBaseURL = "https://ipinfo.io"
	DefaultTimeout = 5 * time.Second
	maxBody        = 64 << 10
)

// IPInfoClient queries the ipinfo.io JSON API.
type IPInfoClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewIPInfoClient returns a client whose transport is traced with otelhttp.
func NewIPInfoClient(baseURL, token string, timeout time.Duration) *IPInfoClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &IPInfoClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "ipinfo " + r.Method
				}),
			),
		},
	}
}

type ipinfoResponse struct {
	IP      string `json:"ip"`
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
	Loc     string `json:"loc"`
	Org     string `json:"org"`
	Bogon   bool   `json:"bogon"`
}

func (c *IPInfoClient) Lookup(ctx context.Context, ip string) (Info, error) {
	if c.Token == "" || Skippable(ip) {
		return Unknown(ip), ErrLookupSkipped
	}

	u := c.BaseURL + "/" + url.PathEscape(ip) + "?token=" + url.QueryEscape(c.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Unknown(ip), xerrors.Wrap(c.redact(err), "build ipinfo request")
	}
	req.Header.Set("Accept", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Unknown(ip), xerrors.Wrap(c.redact(err), "ipinfo request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Unknown(ip), xerrors.Wrap(err, "read ipinfo response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Unknown(ip), xerrors.Newf("ipinfo status %d", resp.StatusCode)
	}

	var r ipinfoResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Unknown(ip), xerrors.Wrap(err, "decode ipinfo response")
	}
	if r.Bogon {
		return Unknown(ip), ErrLookupSkipped
	}
	return infoFromResponse(ip, r), nil
}

func infoFromResponse(ip string, r ipinfoResponse) Info {
	out := Unknown(ip)
	if r.Country != "" {
		out.Country = r.Country
		out.CountryCode = r.Country
	}
	if r.City != "" {
		out.City = r.City
	}
	if r.Region != "" {
		out.Region = r.Region
	}
	if r.Org != "" {
		out.ASN, out.Org = splitOrg(r.Org)
		out.ISP = r.Org
	}
	out.Loc = r.Loc
	return out
}

// redact strips the token from url.Error messages, which embed the full
// request URL.
func (c *IPInfoClient) redact(err error) error {
	var ue *url.Error
	if c.Token == "" || !errors.As(err, &ue) {
		return err
	}
	return fmt.Errorf("%s %q: %w", ue.Op, strings.ReplaceAll(ue.URL, url.QueryEscape(c.Token), "REDACTED"), ue.Err)
}
