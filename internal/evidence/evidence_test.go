package evidence

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"urlrisk/internal/probe"
	"urlrisk/pkg/domain"
)

func TestCollect_OfflineTargetGathersNothingButRecordsMisses(t *testing.T) {
	c := New(Options{SubTimeout: 2 * time.Second, WHOISTimeout: 2 * time.Second})
	c.whois.rootAddr = whoisStub(t, "% No entries found\r\n")

	target, err := url.Parse("https://unreachable-host.invalid/login")
	require.NoError(t, err)

	b := c.Collect(context.Background(), target,
		domain.Reachability{State: domain.ReachabilityOffline}, nil, Skip{})

	require.Equal(t, "unreachable-host.invalid", b.RegistrableDomain)
	require.Nil(t, b.Page)
	require.Nil(t, b.TLS)
	require.Nil(t, b.Screenshot)
	require.ElementsMatch(t, []string{"dns", "whois"}, b.Missing)
	require.False(t, b.CollectedAt.IsZero())

	_, known := b.DomainAge(time.Now())
	require.False(t, known)
}

func TestCollect_OnlinePageIsSummarizedWithoutRefetch(t *testing.T) {
	c := New(Options{SubTimeout: 2 * time.Second, WHOISTimeout: 2 * time.Second})
	c.whois.rootAddr = whoisStub(t,
		"Registrar: Stub Registrar\r\nCreation Date: 2010-06-01\r\n")

	target, err := url.Parse("http://stub-host.invalid/")
	require.NoError(t, err)

	pg := &probe.Page{
		FinalURL:   target.String(),
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       []byte(`<html><title>stub</title><body>hi</body></html>`),
	}
	b := c.Collect(context.Background(), target,
		domain.Reachability{State: domain.ReachabilityOnline}, pg, Skip{})

	require.NotNil(t, b.Page)
	require.Equal(t, "stub", b.Page.Title)
	require.NotNil(t, b.WHOIS)
	require.Equal(t, "Stub Registrar", b.WHOIS.Registrar)

	age, known := b.DomainAge(time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC))
	require.True(t, known)
	require.InDelta(t, 10*365, age.Hours()/24, 5)

	// plain HTTP target with no captured state has no certificate to describe
	require.Contains(t, b.Missing, "tls")
	require.Contains(t, b.Missing, "dns")
}
