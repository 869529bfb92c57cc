package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
	"github.com/eliteGoblin/focusd/dirlink/internal/page"
)

func TestMatchesDomain(t *testing.T) {
	tests := []struct {
		hostname string
		domain   string
		want     bool
	}{
		{"example.com", "example.com", true},
		{"www.example.com", "example.com", true},
		{"a.b.example.com", "example.com", true},
		{"notexample.com", "example.com", false},
		{"example.com.evil.net", "example.com", false},
		{"Example.com", "example.com", false}, // case-sensitive
		{"example.com", "www.example.com", false},
		{"", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.hostname+"~"+tt.domain, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesDomain(tt.hostname, tt.domain))
		})
	}
}

func TestIsDomainAllowed(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		allowed  []string
		blocked  []string
		want     bool
	}{
		{"empty lists allow all", "anything.org", nil, nil, true},
		{"blocked exact", "example.com", nil, []string{"example.com"}, false},
		{"blocked parent", "www.example.com", nil, []string{"example.com"}, false},
		{"block wins over allow", "www.example.com", []string{"example.com"}, []string{"example.com"}, false},
		{"block wins over more specific allow", "docs.example.com", []string{"docs.example.com"}, []string{"example.com"}, false},
		{"allow-list membership", "wiki.corp.local", []string{"corp.local"}, nil, true},
		{"allow-list miss", "example.com", []string{"corp.local"}, nil, false},
		{"unrelated block keeps allow-all", "intranet.local", nil, []string{"example.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := domain.Settings{
				Enabled:        true,
				AllowedDomains: tt.allowed,
				BlockedDomains: tt.blocked,
			}
			assert.Equal(t, tt.want, IsDomainAllowed(tt.hostname, s))
		})
	}
}

// TestIsDomainAllowed_BlockAlwaysWins checks every allow-list shape against a blocked parent
func TestIsDomainAllowed_BlockAlwaysWins(t *testing.T) {
	hosts := []string{"example.com", "www.example.com", "a.b.c.example.com"}
	allowLists := [][]string{
		nil,
		{"example.com"},
		{"www.example.com", "a.b.c.example.com"},
		{"other.org"},
	}

	for _, h := range hosts {
		for _, allow := range allowLists {
			s := domain.Settings{AllowedDomains: allow, BlockedDomains: []string{"example.com"}}
			assert.False(t, IsDomainAllowed(h, s), "host=%s allow=%v", h, allow)
		}
	}
}

func TestRewriteURL(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{"unix path", "file:///home/x", "directory:///home/x", true},
		{"drive without colon, double slash", "file://C/Users/x", "directory:///C:/Users/x", true},
		{"drive without colon, triple slash", "file:///C/Users/x", "directory:///C:/Users/x", true},
		{"lowercase drive", "file:///d/data", "directory:///d:/data", true},
		{"drive with colon untouched", "file:///C:/Users/x", "directory:///C:/Users/x", true},
		{"multi-letter segment untouched", "file:///Cd/x", "directory:///Cd/x", true},
		{"unc host untouched", "file://server/share", "directory://server/share", true},
		{"single letter deeper in path untouched", "file:///home/C/x", "directory:///home/C/x", true},
		{"percent-encoding kept", "file:///tmp/My%20Docs", "directory:///tmp/My%20Docs", true},
		{"https rejected", "https://x", "", false},
		{"uppercase scheme rejected", "FILE:///x", "", false},
		{"empty rejected", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RewriteURL(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDomainList(t *testing.T) {
	text := "  Example.com \n\n# comment\nfoo.org\n   \n#another\nBAR.net"

	assert.Equal(t, []string{"example.com", "foo.org", "bar.net"}, ParseDomainList(text))
	assert.Empty(t, ParseDomainList(""))
	assert.NotNil(t, ParseDomainList(""))
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"example.com", "example.com", false},
		{"Example.COM.", "example.com", false},
		{"*.example.com", "example.com", false},
		{"bücher.example", "xn--bcher-kva.example", false},
		{"", "", true},
		{"  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeDomain(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestNormalizeDomains verifies duplicates collapse after normalization
func TestNormalizeDomains(t *testing.T) {
	got, err := NormalizeDomains([]string{"example.com", "EXAMPLE.com.", "foo.org"})

	require.NoError(t, err)
	assert.Equal(t, []string{"example.com", "foo.org"}, got)
}

func TestEngine(t *testing.T) {
	e := NewEngine()
	assert.True(t, e.Active("any.host"))
	assert.True(t, e.ShowIndicator())

	applied := e.Apply(map[string]domain.SettingChange{
		domain.KeyBlockedDomains: {NewValue: []byte(`["example.com"]`)},
		"unknown":                {NewValue: []byte(`1`)},
	})
	assert.Equal(t, []string{domain.KeyBlockedDomains}, applied)
	assert.False(t, e.Active("www.example.com"))
	assert.True(t, e.Active("other.org"))

	e.Apply(map[string]domain.SettingChange{domain.KeyEnabled: {NewValue: []byte(`false`)}})
	assert.False(t, e.Active("other.org"))

	url, ok := e.Rewrite("file:///C/x")
	assert.True(t, ok)
	assert.Equal(t, "directory:///C:/x", url)
}

// TestEngine_SettingsIsCopy verifies callers cannot mutate the cache
func TestEngine_SettingsIsCopy(t *testing.T) {
	e := NewEngineWithSettings(domain.Settings{Enabled: true, BlockedDomains: []string{"a.com"}})

	s := e.Settings()
	s.BlockedDomains[0] = "b.com"

	assert.False(t, e.Active("a.com"))
}

func TestIsFileLink(t *testing.T) {
	doc, err := page.ParseString(`<body>
		<a id="dir" href="file:///srv/share"><span id="inner">x</span></a>
		<a id="web" href="https://example.com/">web</a>
		<a id="bare">no href</a>
		<div id="div" href="file:///srv/share">div</div>
	</body>`, "https://intranet.example.com/", zap.NewNop())
	require.NoError(t, err)
	defer doc.Close()

	tests := []struct {
		id   string
		want bool
	}{
		{"dir", true},
		{"inner", false},
		{"web", false},
		{"bare", false},
		{"div", false},
	}

	doc.Loop().Do(func() {
		for _, tt := range tests {
			els := doc.QueryAll("#" + tt.id)
			if !assert.Len(t, els, 1, tt.id) {
				continue
			}
			assert.Equal(t, tt.want, IsFileLink(els[0]), tt.id)
		}
	})
	assert.False(t, IsFileLink(nil))
}
