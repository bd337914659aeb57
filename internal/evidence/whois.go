package evidence

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// WHOISRecord holds the registration facts the scoring categories care about.
type WHOISRecord struct {
	// Registrar is the sponsoring registrar name.
	Registrar string
	// CreatedAt is the registration date; zero when unparseable.
	CreatedAt time.Time
	// ExpiresAt is the expiry date; zero when unparseable.
	ExpiresAt time.Time
	// Raw is the trimmed response text for free-text analysis.
	Raw string
}

// WHOISClient performs port-43 WHOIS lookups with a referral hop: the TLD
// server named by IANA is asked first, then the registrar server it refers to.
type WHOISClient struct {
	timeout time.Duration
	dialer  *net.Dialer
	// rootAddr is the IANA whois server; overridable in tests.
	rootAddr string
}

// NewWHOISClient creates a WHOISClient with the given per-query timeout.
func NewWHOISClient(timeout time.Duration) *WHOISClient {
	return &WHOISClient{
		timeout:  timeout,
		dialer:   &net.Dialer{},
		rootAddr: "whois.iana.org:43",
	}
}

// creationKeys and expiryKeys cover the field spellings used by common
// registries. Matching is case-insensitive on the key before the colon.
var (
	creationKeys  = []string{"creation date", "created", "registered on", "registration time", "domain registration date"} //nolint: lll, gochecknoglobals
	expiryKeys    = []string{"registry expiry date", "expiry date", "expiration date", "paid-till", "expires"}             //nolint: lll, gochecknoglobals
	registrarKeys = []string{"registrar"}                                                                                  //nolint: gochecknoglobals

	whoisDateLayouts = []string{ //nolint: gochecknoglobals
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"02-Jan-2006",
		"2006.01.02",
		"02.01.2006",
	}
)

// Lookup queries WHOIS for the registrable domain.
func (c *WHOISClient) Lookup(ctx context.Context, domain string) (*WHOISRecord, error) {
	root, err := c.query(ctx, c.rootAddr, domain)
	if err != nil {
		return nil, fmt.Errorf("could not query IANA whois: %w", err)
	}

	response := root
	if refer := fieldValue(root, "refer"); refer != "" {
		if resp, err := c.query(ctx, net.JoinHostPort(refer, "43"), domain); err == nil {
			response = resp
		} // else: keep the IANA answer; thin registries still carry dates sometimes
	}

	rec := &WHOISRecord{Raw: strings.TrimSpace(response)}
	for _, key := range registrarKeys {
		if v := fieldValue(response, key); v != "" {
			rec.Registrar = v

			break
		}
	}
	rec.CreatedAt = parseWHOISDate(response, creationKeys)
	rec.ExpiresAt = parseWHOISDate(response, expiryKeys)

	if rec.CreatedAt.IsZero() && rec.Registrar == "" {
		return nil, fmt.Errorf("no usable WHOIS data for %s", domain)
	}

	return rec, nil
}

func (c *WHOISClient) query(ctx context.Context, addr, domain string) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("could not dial %s: %w", addr, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if deadline, ok := dctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := fmt.Fprintf(conn, "%s\r\n", domain); err != nil {
		return "", fmt.Errorf("could not send query: %w", err)
	}

	b, err := io.ReadAll(bufio.NewReader(conn))
	if err != nil {
		return "", fmt.Errorf("could not read response: %w", err)
	}

	return string(b), nil
}

// fieldValue returns the value of the first "key: value" line matching key,
// case-insensitively.
func fieldValue(response, key string) string {
	for _, line := range strings.Split(response, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return strings.TrimSpace(v)
		}
	}

	return ""
}

func parseWHOISDate(response string, keys []string) time.Time {
	for _, key := range keys {
		v := fieldValue(response, key)
		if v == "" {
			continue
		}
		// some registries append a comment after the date
		v = strings.Fields(v)[0]
		for _, layout := range whoisDateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}

	return time.Time{}
}
